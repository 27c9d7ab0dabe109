package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// AttestorAPI is the HTTP base URL of the attestation service.
	AttestorAPI string
	// AttestorGRPC is the gRPC endpoint of the attestation service, used only for
	// the health probe at startup.
	AttestorGRPC string
	// CallbackURL is the public URL the attestation service posts results back to.
	CallbackURL string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	AttestorAPI, err = getEnv("ATTESTOR_API")
	if err != nil {
		return err
	}

	AttestorGRPC, err = getEnv("ATTESTOR_GRPC")
	if err != nil {
		return err
	}

	CallbackURL, err = getEnv("RPM_CALLBACK_URL")
	if err != nil {
		return err
	}

	log.Debug().
		Str("AttestorAPI", AttestorAPI).
		Str("AttestorGRPC", AttestorGRPC).
		Str("CallbackURL", CallbackURL).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
