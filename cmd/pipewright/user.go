package main

import (
	"os"
	"os/user"
)

// defaultUser names the operator recorded on administrative actions.
func defaultUser() string {
	if name := os.Getenv("PIPEWRIGHT_USER"); name != "" {
		return name
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return "anonymous"
}
