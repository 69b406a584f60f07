package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/moka-remote/mokactl/internal/app"
	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/mockserver"
	"github.com/moka-remote/mokactl/internal/protocol"
	"github.com/moka-remote/mokactl/internal/recording"
)

const (
	connectTimeout = 30 * time.Second
	uploadTimeout  = 2 * time.Minute
)

// withClient resolves the profile, connects and runs fn. The connection is
// closed when fn returns.
func (cli *CLI) withClient(ctx context.Context, fn func(*interfaces.Profile, interfaces.ApplianceClient) error) error {
	profile, _, err := cli.resolveProfile()
	if err != nil {
		return err
	}
	client, err := cli.newClient(profile)
	if err != nil {
		return err
	}
	defer client.Close()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", profile.Address(), err)
	}
	cli.logger.Debug("Connected", "profile", profile.Name, "address", profile.Address())
	return fn(profile, client)
}

func parseVoiceFlag(name string, profile *interfaces.Profile) (domain.Voice, error) {
	if name == "" {
		return profile.Voice(), nil
	}
	return domain.ParseVoice(name)
}

func (cli *CLI) tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive dashboard (default)",
		Args:  cobra.NoArgs,
		RunE:  cli.runTUI,
	}
}

// runTUI opens the profile picker, or the dashboard directly when a profile
// or host was named on the command line.
func (cli *CLI) runTUI(cmd *cobra.Command, args []string) error {
	deps, err := cli.initializeDependencies()
	if err != nil {
		return err
	}

	var controller *app.ConsoleController
	if cli.flags.Profile != "" || cli.flags.Host != "" {
		profile, _, err := cli.resolveProfile()
		if err != nil {
			return err
		}
		controller, err = app.NewDirectController(deps.ConfigManager, deps.Monitor, deps.History, cli.newClient, cli.logger.WithComponent("ui"), profile)
		if err != nil {
			return err
		}
	} else {
		controller = app.NewConsoleController(deps.ConfigManager, deps.Monitor, deps.History, cli.newClient, cli.logger.WithComponent("ui"))
	}

	program := tea.NewProgram(controller,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(cmd.Context()),
	)
	if _, err := program.Run(); err != nil {
		cli.logger.Error("Application error", "error", err.Error())
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}

func (cli *CLI) stateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show whether the appliance is on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				state, err := client.FetchAppState(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", profile.Name, state)
				return nil
			})
		},
	}
}

func (cli *CLI) powerCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Switch the appliance on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on", "1":
				on = true
			case "off", "0":
			default:
				return fmt.Errorf("power must be on or off, got %q", args[0])
			}
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				if err := client.SetPower(cmd.Context(), on); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: switched %s\n", profile.Name, domain.AppState{On: on})
				return nil
			})
		},
	}
}

func (cli *CLI) triggerCommand() *cobra.Command {
	var voiceName string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Play a voice recording now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				voice, err := parseVoiceFlag(voiceName, profile)
				if err != nil {
					return err
				}
				state, err := client.FetchAppState(cmd.Context())
				if err != nil {
					return err
				}
				if !state.On {
					return fmt.Errorf("%s is off; switch it on before triggering", profile.Name)
				}
				if err := client.Trigger(cmd.Context(), voice); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: triggered %s\n", profile.Name, voice)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&voiceName, "voice", "", "voice to play (default from the profile)")
	return cmd
}

func (cli *CLI) paramsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Read or change the detection parameters",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				set, err := client.FetchParameters(cmd.Context())
				if err != nil {
					return err
				}
				printParameters(cmd, domain.DefaultParameters().Apply(set))
				return nil
			})
		},
	}

	var values struct{ noise, resemblance, cooldown, delay float64 }
	set := &cobra.Command{
		Use:   "set",
		Short: "Change one or more parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := map[string]float64{
				"noise":       values.noise,
				"resemblance": values.resemblance,
				"cooldown":    values.cooldown,
				"delay":       values.delay,
			}
			names := map[string]string{
				"noise":       domain.ParamNoiseThreshold,
				"resemblance": domain.ParamResemblanceThreshold,
				"cooldown":    domain.ParamCooldown,
				"delay":       domain.ParamDelay,
			}
			changed := false
			for flag := range flags {
				changed = changed || cmd.Flags().Changed(flag)
			}
			if !changed {
				return fmt.Errorf("nothing to change; pass at least one of --noise, --resemblance, --cooldown, --delay")
			}

			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				current, err := client.FetchParameters(cmd.Context())
				if err != nil {
					return err
				}
				params := domain.DefaultParameters().Apply(current)
				for flag, value := range flags {
					if !cmd.Flags().Changed(flag) {
						continue
					}
					if params, err = params.Set(names[flag], value); err != nil {
						return err
					}
				}
				if err := client.PushParameters(cmd.Context(), params, domain.DefaultBounds()); err != nil {
					return err
				}
				printParameters(cmd, params)
				return nil
			})
		},
	}
	set.Flags().Float64Var(&values.noise, "noise", 0, "noise threshold in dB")
	set.Flags().Float64Var(&values.resemblance, "resemblance", 0, "resemblance threshold between 0 and 1")
	set.Flags().Float64Var(&values.cooldown, "cooldown", 0, "cooldown in seconds")
	set.Flags().Float64Var(&values.delay, "delay", 0, "delay in seconds")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the factory parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				params, err := client.ResetParameters(cmd.Context())
				if err != nil {
					return err
				}
				printParameters(cmd, params)
				return nil
			})
		},
	}

	cmd.AddCommand(get, set, reset)
	return cmd
}

func printParameters(cmd *cobra.Command, p domain.Parameters) {
	units := map[string]string{
		domain.ParamNoiseThreshold: "dB",
		domain.ParamCooldown:       "s",
		domain.ParamDelay:          "s",
	}
	for _, param := range p.ParameterSet() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s %s\n", param.Name, domain.FormatValue(param.Value), units[param.Name])
	}
}

func (cli *CLI) eventsCommand() *cobra.Command {
	var (
		fromHistory bool
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent detections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromHistory {
				return cli.printHistory(cmd, limit)
			}
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				events, err := client.FetchRecentEvents(cmd.Context())
				if err != nil {
					return err
				}
				if cli.deps.History != nil {
					if added, err := cli.deps.History.RecordEvents(profile.Name, events); err != nil {
						cli.logger.Warn("Failed to record events", "error", err.Error())
					} else {
						cli.logger.Debug("Recorded events", "added", added)
					}
				}
				rows := make([][]string, 0, len(events))
				for i := len(events) - 1; i >= 0; i-- {
					rows = append(rows, eventRow(events[i]))
				}
				printTable(cmd, "No events", []string{"TIME", "STATUS", "VOICE"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromHistory, "history", false, "list events stored locally instead of asking the appliance")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of stored events to list")
	return cmd
}

func (cli *CLI) printHistory(cmd *cobra.Command, limit int) error {
	profile, deps, err := cli.resolveProfile()
	if err != nil {
		return err
	}
	if deps.History == nil {
		return fmt.Errorf("event history is unavailable")
	}
	stored, err := deps.History.ListEvents(profile.Name, limit)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(stored))
	for _, s := range stored {
		rows = append(rows, append(eventRow(s.Event), s.FirstSeen.Local().Format(time.DateTime)))
	}
	printTable(cmd, "No events stored", []string{"TIME", "STATUS", "VOICE", "FIRST SEEN"}, rows)
	return nil
}

func eventRow(e domain.EventRecord) []string {
	voice := "-"
	if e.HasVoice() {
		voice = e.Voice
	}
	return []string{e.Timestamp, e.Status, voice}
}

func (cli *CLI) uploadsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List recordings sent to the appliance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, deps, err := cli.resolveProfile()
			if err != nil {
				return err
			}
			if deps.History == nil {
				return fmt.Errorf("upload history is unavailable")
			}
			uploads, err := deps.History.ListUploads(profile.Name, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(uploads))
			for _, u := range uploads {
				rows = append(rows, []string{
					u.UploadedAt.Local().Format(time.DateTime),
					u.Voice,
					u.FileName,
					strconv.FormatInt(u.Size, 10),
					u.Digest[:min(12, len(u.Digest))],
				})
			}
			printTable(cmd, "No uploads", []string{"UPLOADED", "VOICE", "FILE", "BYTES", "DIGEST"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of uploads to list")
	return cmd
}

func printTable(cmd *cobra.Command, empty string, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), empty)
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
}

func (cli *CLI) uploadCommand() *cobra.Command {
	var (
		voiceName string
		keep      bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Send a WAV recording to the appliance",
		Long:  "Send a WAV recording to the appliance as the given voice.\nThe file is deleted after a successful upload unless --keep is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withClient(cmd.Context(), func(profile *interfaces.Profile, client interfaces.ApplianceClient) error {
				voice, err := parseVoiceFlag(voiceName, profile)
				if err != nil {
					return err
				}
				state, err := client.FetchAppState(cmd.Context())
				if err != nil {
					return err
				}
				if !state.On {
					return fmt.Errorf("%s is off; switch it on before uploading", profile.Name)
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), uploadTimeout)
				defer cancel()
				uploader := recording.NewUploader(client, cli.deps.History, profile.Name, cli.logger.WithComponent("recording"))
				result, err := uploader.Upload(ctx, args[0], voice, keep)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uploaded %s as %s (%d bytes) in %s\n",
					result.Recording.Name(), result.Voice, len(result.Recording.Data), result.Duration.Round(time.Millisecond))
				if result.Previous != nil {
					fmt.Fprintf(out, "Same recording was sent as %s on %s\n",
						result.Previous.Voice, result.Previous.UploadedAt.Local().Format(time.DateTime))
				}
				if result.DeleteErr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not delete %s: %v\n", result.Recording.Path, result.DeleteErr)
				} else if result.Deleted {
					fmt.Fprintf(out, "Deleted %s\n", result.Recording.Path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&voiceName, "voice", "", "voice the recording replaces (default from the profile)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the file after uploading")
	return cmd
}

func (cli *CLI) pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the appliance accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, deps, err := cli.resolveProfile()
			if err != nil {
				return err
			}
			deps.Monitor.Watch(*profile)
			h, err := deps.Monitor.Check(cmd.Context(), profile.Name)
			if err != nil {
				return err
			}
			if h.Status != interfaces.HealthReady {
				return fmt.Errorf("%s (%s) is %s: %s", h.Name, h.Address, h.Status, h.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is %s in %s\n", h.Name, h.Address, h.Status, h.ResponseTime.Round(time.Millisecond))
			return nil
		},
	}
}

func (cli *CLI) mockServerCommand() *cobra.Command {
	var (
		listen       string
		framingName  string
		off          bool
		delay        time.Duration
		maxEvents    int
		maxFrameSize int
	)
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a simulated appliance for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := framing.ParseMode(framingName)
			if err != nil {
				return err
			}
			cfg := mockserver.DefaultConfig()
			cfg.Address = listen
			cfg.Mode = mode
			cfg.On = !off
			cfg.ResponseDelay = delay
			if maxEvents > 0 {
				cfg.MaxEvents = maxEvents
			}
			if maxFrameSize > 0 {
				cfg.MaxFrameSize = maxFrameSize
			}

			if !cli.flags.Debug && cli.flags.LogLevel == "" {
				cli.logger.SetLevel(logging.InfoLevel)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mock appliance listening on %s (%s framing), Ctrl+C to stop\n", listen, mode)
			return mockserver.New(cfg, cli.logger).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", mockserver.DefaultListenAddress, "address to listen on")
	cmd.Flags().StringVar(&framingName, "framing", framing.ModeDelimited.String(), "framing mode: delimited or length_prefixed")
	cmd.Flags().BoolVar(&off, "off", false, "start switched off")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before each reply")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "number of events kept in memory")
	cmd.Flags().IntVar(&maxFrameSize, "max-frame-size", 0, "largest command accepted in length-prefixed mode")
	return cmd
}

func (cli *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ProgramName, version)
			if commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit:   %s\n", commit)
			}
			if buildDate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built:    %s\n", buildDate)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "protocol: revision %s\n", protocol.ProtocolVersion)
		},
	}
}
