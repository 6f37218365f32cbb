// Package confirmation asks the operator to approve a restore before it runs.
package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"guild-backup/internal/display"
	"guild-backup/internal/restore"
)

// ErrInterrupted is returned when the prompt is interrupted by a signal
var ErrInterrupted = errors.New("operation cancelled by user")

// ConfirmationService handles operator confirmation for restores
type ConfirmationService interface {
	ConfirmRestore(forecast *restore.Forecast, autoApprove bool) (bool, error)
	Confirm(question string, autoApprove bool) (bool, error)
	DisplayRestoreSummary(forecast *restore.Forecast) error
}

type confirmationService struct {
	printer *display.Printer
	reader  *bufio.Reader
	signals chan os.Signal
	notify  bool
}

// NewConfirmationService prompts on in and writes through printer
func NewConfirmationService(in io.Reader, printer *display.Printer) ConfirmationService {
	return newService(in, printer, true)
}

func newService(in io.Reader, printer *display.Printer, notify bool) *confirmationService {
	return &confirmationService{
		printer: printer,
		reader:  bufio.NewReader(in),
		signals: make(chan os.Signal, 1),
		notify:  notify,
	}
}

// destructiveActions remove live state that the backup may not fully replace
var destructiveActions = map[restore.Action]bool{
	restore.ActionDeleteRoles:    true,
	restore.ActionDeleteChannels: true,
	restore.ActionLoadBans:       true,
}

// ConfirmRestore shows the forecast and asks whether to run it
func (cs *confirmationService) ConfirmRestore(forecast *restore.Forecast, autoApprove bool) (bool, error) {
	if len(forecast.Items) == 0 {
		cs.printer.Info("No actions selected; nothing to restore")
		return false, nil
	}
	if err := cs.DisplayRestoreSummary(forecast); err != nil {
		return false, fmt.Errorf("failed to display restore summary: %w", err)
	}
	if autoApprove {
		cs.printer.Success("Auto-approving restore...")
		return true, nil
	}

	for {
		input, err := cs.ask("Do you want to run this restore? [y/N/d]: ")
		if err != nil {
			return false, err
		}
		switch input {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		case "d", "details":
			cs.showDetails(forecast)
		default:
			cs.printer.Warning("Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.", input)
		}
	}
}

// Confirm asks a yes/no question that defaults to no
func (cs *confirmationService) Confirm(question string, autoApprove bool) (bool, error) {
	if autoApprove {
		return true, nil
	}
	input, err := cs.ask(question + " [y/N]: ")
	if err != nil {
		return false, err
	}
	return input == "y" || input == "yes", nil
}

// DisplayRestoreSummary writes the forecast and flags destructive actions
func (cs *confirmationService) DisplayRestoreSummary(forecast *restore.Forecast) error {
	if err := cs.printer.Forecast(forecast); err != nil {
		return err
	}
	var destructive []string
	for _, item := range forecast.Items {
		if destructiveActions[item.Action] && item.Count > 0 {
			destructive = append(destructive, fmt.Sprintf("%s (%d)", item.Action, item.Count))
		}
	}
	if len(destructive) > 0 {
		cs.printer.Section("DESTRUCTIVE ACTIONS SELECTED")
		cs.printer.Warning("%s will change the target space and cannot be undone.", strings.Join(destructive, ", "))
		cs.printer.Warning("Consider creating a backup of %s first.", forecast.TargetID)
	}
	return nil
}

func (cs *confirmationService) showDetails(forecast *restore.Forecast) {
	cs.printer.Section("Selected actions")
	for i, item := range forecast.Items {
		cs.printer.Println(fmt.Sprintf("%d. %s: %s", i+1, item.Action, item.Summary))
	}
}

// ask prompts and waits for a line or an interrupt
func (cs *confirmationService) ask(prompt string) (string, error) {
	if cs.notify {
		signal.Notify(cs.signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(cs.signals)
	}

	fmt.Fprint(cs.printer.Writer(), cs.printer.Colors().Colorize(prompt, display.ColorBold))

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	go func() {
		input, err := cs.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && input != "") {
			errorChan <- err
			return
		}
		inputChan <- strings.ToLower(strings.TrimSpace(input))
	}()

	select {
	case <-cs.signals:
		cs.printer.Println()
		cs.printer.Warning("Operation cancelled by user")
		return "", ErrInterrupted
	case err := <-errorChan:
		return "", fmt.Errorf("failed to read user input: %w", err)
	case input := <-inputChan:
		return input, nil
	}
}
