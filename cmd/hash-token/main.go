package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/logger"
)

const minTokenLength = 8

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Fprintln(os.Stderr, "=== Hash Console Token ===")

	token, err := readToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(token) < minTokenLength {
		fmt.Fprintf(os.Stderr, "Error: token must be at least %d characters\n", minTokenLength)
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash token")
	}

	fmt.Fprintln(os.Stderr, "\nAdd this line to .env:")
	fmt.Printf("CONSOLE_TOKEN_HASH=%s\n", hash)
}

// readToken prompts twice on a terminal and reads one line from a pipe.
func readToken() (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, "Enter console token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat console token: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("tokens do not match")
	}
	return string(first), nil
}
