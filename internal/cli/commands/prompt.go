package commands

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNonInteractive is returned when input is needed but stdin is not a terminal
var ErrNonInteractive = errors.New("input required in non-interactive mode")

// Prompter asks the user for missing input
type Prompter interface {
	Input(label string) (string, error)
	Password(label string) (string, error)
	Select(label string, items []string) (string, error)
}

type terminalPrompter struct{}

func interactive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func (terminalPrompter) Input(label string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("%s: %w", label, ErrNonInteractive)
	}
	prompt := promptui.Prompt{Label: label}
	return prompt.Run()
}

func (terminalPrompter) Password(label string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("%s: %w", label, ErrNonInteractive)
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func (terminalPrompter) Select(label string, items []string) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("%s: %w", label, ErrNonInteractive)
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ . | cyan }}",
		Inactive: "  {{ . }}",
		Selected: "{{ . | green }}",
	}
	prompt := promptui.Select{
		Label:     label,
		Items:     items,
		Templates: templates,
		Size:      len(items),
	}

	_, value, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	return value, nil
}
