package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/ibero-data/licensor/internal/auth"
)

var (
	stdin = bufio.NewReader(os.Stdin)

	// readSecret reads a line from the terminal without echo
	readSecret = func() ([]byte, error) {
		return term.ReadPassword(int(syscall.Stdin))
	}
)

func prompt(label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirm(label string) bool {
	answer := strings.ToLower(prompt(label + " [y/N]: "))
	return answer == "y" || answer == "yes"
}

func promptSecret(label string) (string, error) {
	fmt.Print(label)
	b, err := readSecret()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// promptPassword reads a password twice without echo.
func promptPassword() (string, error) {
	password, err := promptSecret(fmt.Sprintf("Password (min %d characters): ", auth.MinPasswordLength))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < auth.MinPasswordLength {
		return "", auth.ErrWeakPassword
	}

	confirmation, err := promptSecret("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if password != confirmation {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}
