package discovery

import (
	"fmt"
	"slices"
	"strings"
)

// TXT record keys of an agent announcement.
const (
	TXTKeyName        = "name"
	TXTKeyOS          = "os"
	TXTKeyUser        = "user"
	TXTKeyInterpreter = "py"
	TXTKeyProduct     = "product"
)

// TXTRecordMap represents TXT record key-value pairs.
type TXTRecordMap map[string]string

// AgentInfo is what an agent announces about itself.
type AgentInfo struct {
	Name        string
	OS          string
	User        string
	Interpreter string
	Product     string
}

// EncodeAgentTXT builds the TXT records of an announcement. Empty fields
// are left out.
func EncodeAgentTXT(info AgentInfo) TXTRecordMap {
	txt := TXTRecordMap{}
	for k, v := range map[string]string{
		TXTKeyName:        info.Name,
		TXTKeyOS:          info.OS,
		TXTKeyUser:        info.User,
		TXTKeyInterpreter: info.Interpreter,
		TXTKeyProduct:     info.Product,
	} {
		if v != "" {
			txt[k] = v
		}
	}
	return txt
}

// DecodeAgentTXT parses announcement TXT records. Unknown keys are
// ignored.
func DecodeAgentTXT(txt TXTRecordMap) (AgentInfo, error) {
	info := AgentInfo{
		Name:        txt[TXTKeyName],
		OS:          strings.ToLower(txt[TXTKeyOS]),
		User:        txt[TXTKeyUser],
		Interpreter: txt[TXTKeyInterpreter],
		Product:     txt[TXTKeyProduct],
	}
	switch info.OS {
	case "", "linux", "windows":
	default:
		return AgentInfo{}, fmt.Errorf("invalid %s %q", TXTKeyOS, txt[TXTKeyOS])
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
