package util

import (
	"encoding/json"
	"fmt"
)

// PrintPrettyJSON prints v as indented JSON, for --output json command modes.
func PrintPrettyJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
