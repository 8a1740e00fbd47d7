package output

import (
	"encoding/json"

	"github.com/jaxxstorm/dnsaudit/internal/model"
)

func RenderJSON(bundle model.ResultBundle) (string, error) {
	b, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
