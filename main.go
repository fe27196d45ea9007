package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog/log"

	"github.com/xalostore/signd/config"
	"github.com/xalostore/signd/internal/zhttp"
	"github.com/xalostore/signd/pkg/credential"
	"github.com/xalostore/signd/pkg/pipeline"
	"github.com/xalostore/signd/pkg/profile"
	"github.com/xalostore/signd/pkg/store"
	"github.com/xalostore/signd/server"
)

const version = "1.0.0"

const usage = `signd - iOS app re-signing service

Validates uploaded certificate/profile pairs, stores them per owner, and
re-signs uploaded IPA files into OTA-installable archives with manifests.

Usage:
  signd serve --config=<path>
  signd validate --p12=<path> --profile=<path> [--password=<password>]
  signd info --profile=<path>
  signd -h | --help
  signd --version

Commands:
  serve     Run the upload/sign HTTP daemon
  validate  Check a certificate/profile pair offline
  info      Display information about a provisioning profile

Options:
  --config=<path>       Path to the YAML configuration file
  --p12=<path>          Path to the P12 certificate file
  --profile=<path>      Path to the provisioning profile
  --password=<password> Password for the P12 certificate (or SIGND_P12_PASSWORD env var)
  -h --help             Show this help message
  --version             Show version
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	if serve, _ := opts.Bool("serve"); serve {
		if err := runServe(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else if validate, _ := opts.Bool("validate"); validate {
		if err := runValidate(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else if info, _ := opts.Bool("info"); info {
		if err := runInfo(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func runServe(opts docopt.Opts) error {
	configPath, _ := opts.String("--config")

	cfg, err := config.ReadFile(configPath)
	if err != nil {
		return err
	}
	if err := zhttp.SetupLogging(cfg.LogLevel, false); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	pipe := &pipeline.Pipeline{
		Store:       st,
		Signer:      &pipeline.ExecSigner{Command: cfg.Signer.Command},
		WorkRoot:    cfg.WorkDir,
		PublishDir:  cfg.PublishDir,
		BaseURL:     cfg.Server.BaseURL,
		SignTimeout: cfg.SignTimeout(),
	}

	srv := server.New(cfg, st, pipe)
	log.Info().Str("listen", cfg.Server.Listen).Str("base_url", cfg.Server.BaseURL).Msg("starting signd")
	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpServer.ListenAndServe()
}

func runValidate(opts docopt.Opts) error {
	p12Path, _ := opts.String("--p12")
	profilePath, _ := opts.String("--profile")
	password, _ := opts.String("--password")
	if password == "" {
		password = os.Getenv("SIGND_P12_PASSWORD")
	}

	p12Data, err := os.ReadFile(p12Path)
	if err != nil {
		return fmt.Errorf("failed to read P12 file: %w", err)
	}
	profileData, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("failed to read provisioning profile: %w", err)
	}

	certInfo, err := credential.Parse(p12Data, password)
	if err != nil {
		return err
	}
	prof, err := profile.Parse(profileData)
	if err != nil {
		return err
	}

	bundleID, err := credential.Validate(certInfo, prof, time.Now())
	if err != nil {
		return err
	}

	fmt.Println("Credential pair is valid")
	fmt.Printf("Team ID:     %s\n", certInfo.OrganizationID)
	fmt.Printf("Bundle ID:   %s\n", bundleID)
	fmt.Printf("Expires:     %s\n", certInfo.NotAfter.Format("2006-01-02 15:04:05"))
	if !prof.ContainsCertificate(certInfo.Certificate) {
		fmt.Println("Warning: certificate is not among the profile's developer certificates")
	}
	return nil
}

func runInfo(opts docopt.Opts) error {
	profilePath, _ := opts.String("--profile")

	profileData, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	prof, err := profile.Parse(profileData)
	if err != nil {
		return err
	}

	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:           %s\n", profilePath)
	fmt.Printf("Name:           %s\n", prof.Name)
	fmt.Printf("Team ID:        %s\n", prof.TeamID())
	fmt.Printf("App ID:         %s\n", prof.ApplicationIdentifier())
	fmt.Printf("UUID:           %s\n", prof.UUID)
	fmt.Printf("Created:        %s\n", prof.CreationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expiration:     %s\n", prof.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:        %v\n", prof.IsExpired())

	if env, err := profile.Envelope(profileData); err == nil {
		fmt.Printf("Envelope:       %d payload bytes\n", env.Payload)
		for _, signer := range env.Signers {
			fmt.Printf("  signed by: %s\n", signer)
		}
	}

	if certs, err := prof.Certificates(); err == nil && len(certs) > 0 {
		fmt.Printf("Certificates:   %d\n", len(certs))
		for i, cert := range certs {
			fmt.Printf("  [%d] %s\n", i+1, cert.Subject.CommonName)
			fmt.Printf("      Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
		}
	}

	if len(prof.ProvisionedDevices) > 0 {
		fmt.Printf("Devices:        %d\n", len(prof.ProvisionedDevices))
	}
	return nil
}
