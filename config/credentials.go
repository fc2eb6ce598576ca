package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LoadCredentialsFile reads probe login credentials from path: username on
// the first line, password on the second. Any further lines are ignored.
// The file holds a live mail account password, so a mode that lets group or
// others read it gets a warning. The warning never blocks startup.
func LoadCredentialsFile(path string) (username, password string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		log.Printf("WARNING: credentials file '%s' has mode %04o and is accessible by group or others", path, perm)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	lines := strings.Split(string(content), "\n")
	if len(lines) < 2 {
		return "", "", fmt.Errorf("credentials file '%s' must contain a username line and a password line", path)
	}
	username = strings.TrimRight(lines[0], "\r")
	password = strings.TrimRight(lines[1], "\r")
	if username == "" {
		return "", "", fmt.Errorf("credentials file '%s' has an empty username line", path)
	}
	return username, password, nil
}
