package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

// SystemResolvers returns the nameservers from /etc/resolv.conf. The first
// entry is marked primary.
func SystemResolvers() ([]model.ResolverTarget, error) {
	return loadResolvers("/etc/resolv.conf")
}

func loadResolvers(path string) ([]model.ResolverTarget, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	seen := map[string]struct{}{}
	resolvers := []model.ResolverTarget{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.ToLower(fields[0]) != "nameserver" {
			continue
		}
		key := strings.ToLower(fields[1])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		resolvers = append(resolvers, model.ResolverTarget{
			Address:   fields[1],
			Transport: model.TransportAuto,
			Label:     "system-" + fields[1],
			Primary:   len(resolvers) == 0,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return resolvers, nil
}
