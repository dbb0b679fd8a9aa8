package main

import "fmt"

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func errStatus(code int) error {
	return fmt.Errorf("request failed with status %d", code)
}
