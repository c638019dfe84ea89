package session

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/innonova/mimiri-client-sub002/config"
	"golang.org/x/term"
)

var (
	ErrUsernameRequired = errors.New("username required")
	ErrPasswordRequired = errors.New("password not defined")
)

// GetCredentials returns the configured username and password, prompting on
// the terminal for whichever is missing.
func GetCredentials(cfg config.Config) (username, password string, err error) {
	username = cfg.Username
	if username == "" {
		fmt.Print("username: ")

		if _, err = fmt.Scanln(&username); err != nil || strings.TrimSpace(username) == "" {
			return "", "", ErrUsernameRequired
		}
	}

	password = cfg.Password
	if password == "" {
		fmt.Print("password: ")

		var bytePassword []byte

		bytePassword, err = term.ReadPassword(int(syscall.Stdin))

		fmt.Println()

		if err != nil {
			return "", "", fmt.Errorf("GetCredentials | %w", err)
		}

		password = string(bytePassword)
		if strings.TrimSpace(password) == "" {
			return "", "", ErrPasswordRequired
		}
	}

	return username, password, nil
}
