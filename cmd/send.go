package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pushwire/internal/apns"
	"github.com/xkilldash9x/pushwire/internal/config"
	"github.com/xkilldash9x/pushwire/internal/observability"
)

// newSendCmd creates and configures the `send` command.
func newSendCmd() *cobra.Command {
	var (
		tokenFile   string
		title       string
		message     string
		payloadFile string
		badge       int
		sound       string
		collapseID  string
		background  bool
		lowPriority bool
		expiration  time.Duration
	)

	sendCmd := &cobra.Command{
		Use:   "send [device-tokens...]",
		Short: "Push a notification to one or more devices",
		Long: `Send delivers one notification to every device token given as an
argument or listed (one per line) in --token-file. All pushes share a
single multiplexed gateway connection.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag-to-viper bindings make command-line flags override the
			// config file and environment with the right precedence.
			for key, flag := range map[string]string{
				"apns.certificate.path": "cert",
				"apns.token.key_path":   "token-key",
				"apns.token.key_id":     "key-id",
				"apns.token.team_id":    "team-id",
				"apns.environment":      "environment",
			} {
				if err := viper.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
					return err
				}
			}
			if err := viper.BindPFlag("send.topic", cmd.Flags().Lookup("topic")); err != nil {
				return err
			}
			if err := viper.BindPFlag("send.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			return viper.BindPFlag("send.rate_limit", cmd.Flags().Lookup("rate"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			tokens, err := collectTokens(args, tokenFile)
			if err != nil {
				return err
			}
			if len(tokens) == 0 {
				return fmt.Errorf("no device tokens given; pass them as arguments or via --token-file")
			}

			body, err := buildBody(payloadFile, title, message, badge, sound, background)
			if err != nil {
				return err
			}

			conn, err := apns.NewConn(apns.Config{
				Gateway:               cfg.APNS.GatewayURL(),
				CertificatePath:       cfg.APNS.Certificate.Path,
				CertificatePassphrase: cfg.APNS.Certificate.Passphrase,
				TokenKeyPath:          cfg.APNS.Token.KeyPath,
				TokenKeyID:            cfg.APNS.Token.KeyID,
				TokenTeamID:           cfg.APNS.Token.TeamID,
				Timeout:               cfg.APNS.Timeout,
				SweepInterval:         cfg.APNS.SweepInterval,
				PingInterval:          cfg.APNS.PingInterval,
				PingTimeout:           cfg.APNS.PingTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			var limiter *rate.Limiter
			if cfg.Send.RateLimit > 0 {
				limiter = rate.NewLimiter(rate.Limit(cfg.Send.RateLimit), 1)
			}

			priority := 0
			if lowPriority || background {
				priority = apns.PriorityLow
			}

			var delivered, rejected, timedOut atomic.Int64
			var pending sync.WaitGroup

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Send.Concurrency)

			for _, token := range tokens {
				token := token
				g.Go(func() error {
					if limiter != nil {
						if err := limiter.Wait(gctx); err != nil {
							return err
						}
					}

					n := &apns.Notification{
						DeviceToken: token,
						Payload:     body,
						ApnsID:      uuid.NewString(),
						Topic:       cfg.Send.Topic,
						CollapseID:  collapseID,
						Priority:    priority,
					}
					if expiration > 0 {
						n.Expiration = time.Now().Add(expiration)
					}

					// The callback accounts for the push; Add before Push
					// because the response can beat Push's return.
					pending.Add(1)
					err := conn.Push(n, apns.CallbackFuncs{
						Response: func(r *apns.Response) {
							defer pending.Done()
							if r.Delivered() {
								delivered.Add(1)
								return
							}
							rejected.Add(1)
							logger.Warn("push rejected",
								zap.String("device", n.DeviceToken),
								zap.Int("status", r.StatusCode),
								zap.String("reason", r.Reason()))
						},
						Timeout: func() {
							defer pending.Done()
							timedOut.Add(1)
							logger.Warn("push timed out", zap.String("device", n.DeviceToken))
						},
					})
					if err != nil {
						pending.Done()
						return fmt.Errorf("push to %s: %w", n.DeviceToken, err)
					}
					return nil
				})
			}

			submitErr := g.Wait()

			// Wait for every accepted push to resolve, unless the user
			// interrupts; Close then discards what is left.
			resolved := make(chan struct{})
			go func() {
				pending.Wait()
				close(resolved)
			}()
			select {
			case <-resolved:
			case <-ctx.Done():
				logger.Warn("interrupted; abandoning unresolved pushes")
			}

			cmd.Printf("delivered %d, rejected %d, timed out %d (of %d)\n",
				delivered.Load(), rejected.Load(), timedOut.Load(), len(tokens))
			if submitErr != nil {
				return submitErr
			}
			if rejected.Load() > 0 || timedOut.Load() > 0 {
				return fmt.Errorf("%d of %d pushes did not deliver",
					rejected.Load()+timedOut.Load(), len(tokens))
			}
			return nil
		},
	}

	sendCmd.Flags().StringVar(&tokenFile, "token-file", "", "file of device tokens, one per line")
	sendCmd.Flags().StringVar(&title, "title", "", "alert title")
	sendCmd.Flags().StringVarP(&message, "message", "m", "", "alert body text")
	sendCmd.Flags().StringVar(&payloadFile, "payload-file", "", "raw JSON payload file (overrides --title/--message)")
	sendCmd.Flags().IntVar(&badge, "badge", -1, "badge count (-1 leaves the badge alone)")
	sendCmd.Flags().StringVar(&sound, "sound", "", "sound to play on delivery")
	sendCmd.Flags().StringVar(&collapseID, "collapse-id", "", "collapse identifier")
	sendCmd.Flags().BoolVar(&background, "background", false, "send a silent content-available push")
	sendCmd.Flags().BoolVar(&lowPriority, "low-priority", false, "deliver at a power-conserving time")
	sendCmd.Flags().DurationVar(&expiration, "expiration", 0, "how long APNs should retry delivery")
	sendCmd.Flags().String("topic", "", "app bundle ID (apns-topic header)")
	sendCmd.Flags().Int("concurrency", 0, "parallel push submissions")
	sendCmd.Flags().Float64("rate", 0, "pushes per second (0 = unlimited)")

	return sendCmd
}

// collectTokens merges argument tokens with the lines of tokenFile.
func collectTokens(args []string, tokenFile string) ([]string, error) {
	tokens := make([]string, 0, len(args))
	tokens = append(tokens, args...)

	if tokenFile == "" {
		return tokens, nil
	}
	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return tokens, nil
}

// buildBody produces the notification payload, either verbatim from a file
// or assembled from the alert flags.
func buildBody(payloadFile, title, message string, badge int, sound string, background bool) ([]byte, error) {
	if payloadFile != "" {
		body, err := os.ReadFile(payloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		if len(body) > apns.MaxPayloadBytes {
			return nil, fmt.Errorf("payload file is %d bytes, limit is %d", len(body), apns.MaxPayloadBytes)
		}
		return body, nil
	}

	p := apns.NewPayload()
	switch {
	case title != "":
		p.AlertTitleBody(title, message)
	case message != "":
		p.Alert(message)
	case !background:
		return nil, fmt.Errorf("nothing to send; use --message, --payload-file, or --background")
	}
	if badge >= 0 {
		p.Badge(badge)
	}
	if sound != "" {
		p.Sound(sound)
	}
	if background {
		p.ContentAvailable()
	}
	return p.Bytes()
}
