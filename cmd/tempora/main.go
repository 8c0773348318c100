package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/temporanet/tempora/internal/chain"
	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/store"
	"github.com/temporanet/tempora/pkg/db/pebble"
	"github.com/temporanet/tempora/pkg/log"
)

// IdentityFile is the on-disk format keygen writes and run loads.
type IdentityFile struct {
	Ed25519Pub string `json:"ed25519_public_key"`
	Ed25519Prv string `json:"ed25519_private_key"`
	Tier       int    `json:"tier"`
	Kind       string `json:"kind"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "tempora",
		Short: "Tempora proof-of-presence node",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		dbPath   string
		keysPath string
		logLevel string
		logJSON  bool
		tier     int
		human    bool
	)

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node identity and write it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, prv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}

			kind := slice.AutomatedPresence
			if human {
				kind = slice.VerifiedHumanPresence
			}
			identity := IdentityFile{
				Ed25519Pub: hex.EncodeToString(pub),
				Ed25519Prv: hex.EncodeToString(prv),
				Tier:       tier,
				Kind:       kind.String(),
			}

			data, err := json.MarshalIndent(identity, "", "\t")
			if err != nil {
				return fmt.Errorf("marshal identity: %w", err)
			}
			if err := os.WriteFile(keysPath, data, 0o600); err != nil {
				return fmt.Errorf("write identity file: %w", err)
			}
			fmt.Printf("identity written to %s (public key %s)\n", keysPath, identity.Ed25519Pub)
			return nil
		},
	}
	keygenCmd.Flags().StringVar(&keysPath, "keys", "identity.json", "path to write the identity file")
	keygenCmd.Flags().IntVar(&tier, "tier", 1, "registration tier (1-3)")
	keygenCmd.Flags().BoolVar(&human, "human", false, "mark the identity as verified-human presence")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLogLevel(logLevel)
			if err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			loggerType := log.ConsoleLogger
			if logJSON {
				loggerType = log.JSONLogger
			}
			log.Init(log.Options{LogLevel: level, Type: loggerType})

			identity, err := loadIdentity(keysPath)
			if err != nil {
				return err
			}

			kv, err := pebble.NewKVStore(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			chainStore := store.NewChain(kv)
			defer chainStore.Close()

			service, err := chain.NewService(chain.Config{
				Identity: identity,
				Store:    chainStore,
			})
			if err != nil {
				return fmt.Errorf("construct chain service: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Root.Info().
				Str("db", dbPath).
				Str("public_key", identity.PublicKey.Hex()).
				Msg("node running")

			if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&dbPath, "db", "tempora-db", "path to the chain database")
	runCmd.Flags().StringVar(&keysPath, "keys", "identity.json", "path to the identity file")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	runCmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON logs instead of console output")

	rootCmd.AddCommand(keygenCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadIdentity(path string) (chain.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chain.Identity{}, fmt.Errorf("read identity file: %w", err)
	}

	var file IdentityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return chain.Identity{}, fmt.Errorf("parse identity file: %w", err)
	}

	prv, err := hex.DecodeString(file.Ed25519Prv)
	if err != nil || len(prv) != crypto.Ed25519PrivateSize {
		return chain.Identity{}, errors.New("identity file carries a malformed private key")
	}
	pub, err := hex.DecodeString(file.Ed25519Pub)
	if err != nil || len(pub) != crypto.Ed25519PublicSize {
		return chain.Identity{}, errors.New("identity file carries a malformed public key")
	}

	kind := slice.AutomatedPresence
	if file.Kind == slice.VerifiedHumanPresence.String() {
		kind = slice.VerifiedHumanPresence
	}

	return chain.Identity{
		PublicKey:  crypto.NewPublicKey(ed25519.PublicKey(pub)),
		PrivateKey: ed25519.PrivateKey(prv),
		Kind:       kind,
		Tier:       file.Tier,
	}, nil
}
