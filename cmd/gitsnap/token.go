package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"gitsnap/pkg/auth"
	"gitsnap/pkg/ui"
)

// saveToken reads a token without echo and stores it in the first writable store
func saveToken() error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("--save-token needs an interactive terminal")
	}

	auth.ShowTokenGuide(ui.Out)
	fmt.Fprint(ui.Out, "GitHub token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(ui.Out)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if isBlank(string(raw)) {
		return errors.New("no token entered")
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open token stores: %w", err)
	}
	store, err := manager.Store(string(raw))
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Token saved to %s", store))
	return nil
}

// forgetToken deletes the stored token from every store
func forgetToken() error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open token stores: %w", err)
	}
	if err := manager.Delete(); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			ui.PrintWarning("No stored token")
			return nil
		}
		return err
	}

	ui.PrintSuccess("Stored token deleted")
	if token, source, err := manager.Token(); err == nil {
		ui.PrintInfo("Still active from "+source, auth.MaskToken(token))
	}
	return nil
}
