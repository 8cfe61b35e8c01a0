package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/output"
	"weeklet/internal/service"
)

func init() {
	Register(&SettingsCmd{})
}

// SettingsCmd implements the settings command.
type SettingsCmd struct{}

func (c *SettingsCmd) Name() string      { return "settings" }
func (c *SettingsCmd) Aliases() []string { return []string{"set"} }
func (c *SettingsCmd) Synopsis() string  { return "Show or change settings" }
func (c *SettingsCmd) Usage() string     { return "weeklet settings [<name>=<value> ...]" }
func (c *SettingsCmd) NeedsStore() bool  { return true }

func (c *SettingsCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *SettingsCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	svc := a.Service()
	if len(args) == 0 {
		output.FormatSettings(out, svc.GetSettings(ctx))
		return exitcode.Success
	}

	patch, err := parseSettingsPatch(args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	ticket, err := svc.SetSettings(ctx, patch)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	if err := waitPersisted(ctx, a, ticket); err != nil {
		return reportStoreError(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// parseSettingsPatch parses name=value pairs. Names are case-insensitive.
func parseSettingsPatch(args []string) (service.SettingsPatch, error) {
	var patch service.SettingsPatch
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return patch, fmt.Errorf("invalid setting: %s (want name=value)", arg)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(name)) {
		case "startofweek":
			sow, err := parseStartOfWeek(value)
			if err != nil {
				return patch, err
			}
			patch.StartOfWeek = &sow
		case "rolloverdefault":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return patch, fmt.Errorf("invalid value for rolloverDefault: %s", value)
			}
			patch.RolloverDefault = &b
		case "compactmode":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return patch, fmt.Errorf("invalid value for compactMode: %s", value)
			}
			patch.CompactMode = &b
		default:
			return patch, fmt.Errorf("unknown setting: %s", name)
		}
	}
	return patch, nil
}

func parseStartOfWeek(value string) (service.StartOfWeek, error) {
	switch strings.ToLower(value) {
	case "mon", "monday":
		return service.Monday, nil
	case "sun", "sunday":
		return service.Sunday, nil
	default:
		return "", fmt.Errorf("invalid value for startOfWeek: %s (want Mon or Sun)", value)
	}
}
