package blocking

import (
	"net"

	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/yl2chen/cidranger"
)

// Sinkholes is the set of addresses a filtering resolver answers with
// instead of the real address.
type Sinkholes struct {
	ranger cidranger.Ranger
}

func NewSinkholes(entries []string) (*Sinkholes, error) {
	s := &Sinkholes{ranger: cidranger.NewPCTrieRanger()}
	for _, entry := range entries {
		ipnet, err := config.ParseSinkhole(entry)
		if err != nil {
			return nil, err
		}
		if err := s.ranger.Insert(cidranger.NewBasicRangerEntry(ipnet)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Contains reports whether value is an IP inside the sinkhole set.
func (s *Sinkholes) Contains(value string) bool {
	ip := net.ParseIP(value)
	if ip == nil {
		return false
	}
	ok, err := s.ranger.Contains(ip)
	return err == nil && ok
}
