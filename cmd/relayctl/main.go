// Command relayctl is the operator CLI for a running relay: governance key generation,
// attestation rotation and enclave registration.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/service/attestation"
	xhttp "TeeRelay/pkg/http"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "relayctl",
		Usage: "operate a sponsored transaction relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "relay",
				Value:   "http://localhost:8080",
				EnvVars: []string{"RELAY_URL"},
				Usage:   "relay base URL",
			},
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Second},
		},
		Commands: []*cli.Command{
			keygenCmd(),
			rotateCmd(),
			registerCmd(),
			statusCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

func keygenCmd() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate an ed25519 governance key pair",
		Action: func(c *cli.Context) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "governance_public_key: %s\n", hex.EncodeToString(pub))
			fmt.Fprintf(c.App.Writer, "GOVERNANCE_PRIVATE_KEY=%s\n", hex.EncodeToString(priv.Seed()))
			return nil
		},
	}
}

func rotateCmd() *cli.Command {
	return &cli.Command{
		Name:  "rotate",
		Usage: "rotate the expected enclave measurements",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pcr0", Required: true},
			&cli.StringFlag{Name: "pcr1", Required: true},
			&cli.StringFlag{Name: "pcr2", Required: true},
			&cli.StringFlag{Name: "issuer", Value: "relayctl"},
			&cli.DurationFlag{Name: "ttl", Value: 5 * time.Minute, Usage: "token lifetime"},
			&cli.StringFlag{
				Name:    "key",
				EnvVars: []string{"GOVERNANCE_PRIVATE_KEY"},
				Usage:   "hex ed25519 governance seed or private key",
			},
		},
		Action: func(c *cli.Context) error {
			key, err := governanceKey(c.String("key"))
			if err != nil {
				return err
			}
			var pcrs models.PCRs
			for _, f := range []struct {
				name string
				dst  *models.HexBytes
			}{{"pcr0", &pcrs.PCR0}, {"pcr1", &pcrs.PCR1}, {"pcr2", &pcrs.PCR2}} {
				if err := f.dst.UnmarshalText([]byte(c.String(f.name))); err != nil {
					return fmt.Errorf("--%s: %w", f.name, err)
				}
			}

			client := newClient(c)
			var current models.AttestationRecord
			if err := get(c.Context, client, c.String("relay")+"/api/attestation", &current); err != nil {
				return fmt.Errorf("read current attestation: %w", err)
			}

			token, err := attestation.MintRotationToken(key, c.String("issuer"), pcrs, current.Version, c.Duration("ttl"))
			if err != nil {
				return err
			}
			req := models.RotateAttestationRequest{
				PCR0:          pcrs.PCR0.String(),
				PCR1:          pcrs.PCR1.String(),
				PCR2:          pcrs.PCR2.String(),
				Authorization: token,
			}
			var res models.RotationResult
			if err := post(c.Context, client, c.String("relay")+"/api/attestation/rotate", req, &res); err != nil {
				return err
			}
			return printJSON(c, res)
		},
	}
}

func registerCmd() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "register an enclave key from a Nitro attestation document",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "doc", Required: true, Usage: "raw CBOR attestation document"},
		},
		Action: func(c *cli.Context) error {
			doc, err := os.ReadFile(c.Path("doc"))
			if err != nil {
				return err
			}
			req := models.RegisterEnclaveRequest{Document: base64.StdEncoding.EncodeToString(doc)}
			var binding models.EnclaveBinding
			if err := post(c.Context, newClient(c), c.String("relay")+"/api/attestation/enclaves", req, &binding); err != nil {
				return err
			}
			return printJSON(c, binding)
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show health, current attestation and trusted enclave keys",
		Action: func(c *cli.Context) error {
			client := newClient(c)
			base := c.String("relay")

			status, body, err := client.Send(c.Context, &xhttp.RequestOptions{Method: "GET", URL: base + "/healthz"})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "health (%d): %s\n", status, strings.TrimSpace(string(body)))

			var current models.AttestationRecord
			if err := get(c.Context, client, base+"/api/attestation", &current); err != nil {
				return err
			}
			var keys []models.EnclaveBinding
			if err := get(c.Context, client, base+"/api/attestation/enclaves", &keys); err != nil {
				return err
			}
			return printJSON(c, map[string]interface{}{"attestation": current, "enclaves": keys})
		},
	}
}

func newClient(c *cli.Context) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(c.Duration("timeout")))
}

func get(ctx context.Context, client *xhttp.Client, url string, dest interface{}) error {
	return call(ctx, client, &xhttp.RequestOptions{Method: "GET", URL: url}, dest)
}

func post(ctx context.Context, client *xhttp.Client, url string, body, dest interface{}) error {
	return call(ctx, client, &xhttp.RequestOptions{
		Method:  "POST",
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, dest)
}

func call(ctx context.Context, client *xhttp.Client, opts *xhttp.RequestOptions, dest interface{}) error {
	var env envelope
	if err := client.SendAndParse(ctx, opts, &env); err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && json.Unmarshal(se.Body, &env) == nil && env.Message != "" {
			return fmt.Errorf("%s %s: %d %s", opts.Method, opts.URL, se.Status, env.Message)
		}
		return err
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dest)
}

func governanceKey(v string) (ed25519.PrivateKey, error) {
	if v == "" {
		return nil, errors.New("GOVERNANCE_PRIVATE_KEY or --key is required")
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	if err != nil {
		return nil, fmt.Errorf("governance key: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("governance key has %d bytes", len(b))
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
