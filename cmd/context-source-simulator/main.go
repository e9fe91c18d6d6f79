package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/diwise/ngsild-client/internal/pkg/application/registry"
	"github.com/diwise/ngsild-client/internal/pkg/infrastructure/router"
	"github.com/diwise/ngsild-client/internal/pkg/presentation/api/contextsource"
)

const appName string = "context-source-simulator"

// permissive fallback policy, used when no policy file is provided
const defaultPolicies string = `package example.authz

default allow := false

allow = response {
    response := {
    }
}
`

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	registryPath := flag.String("registry", "/opt/diwise/config/registry.yaml", "path to the tenant registry configuration")
	policyPath := flag.String("policies", "/opt/diwise/config/authz.rego", "path to authorization policies")
	flag.Parse()

	app, err := registry.New(ctx, loadRegistryConfig(ctx, *registryPath))
	if err != nil {
		log.Error("failed to create entity registry", "err", err.Error())
		os.Exit(1)
	}

	r := router.New(appName)

	err = contextsource.RegisterHandlers(ctx, r, loadPolicies(ctx, *policyPath), app)
	if err != nil {
		log.Error("failed to register handlers", "err", err.Error())
		os.Exit(1)
	}

	port := env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080")
	log.Info("starting to listen for connections", "port", port)

	err = http.ListenAndServe(":"+port, r)
	if err != nil {
		log.Error("failed to listen for connections", "err", err.Error())
		os.Exit(1)
	}
}

func loadRegistryConfig(ctx context.Context, path string) *registry.Config {
	log := logging.GetFromContext(ctx)

	f, err := os.Open(path)
	if err != nil {
		log.Warn("no registry configuration found, using the default tenant", "path", path)
		return registry.DefaultConfig()
	}
	defer f.Close()

	cfg, err := registry.LoadConfiguration(f)
	if err != nil {
		log.Error("failed to parse registry configuration", "path", path, "err", err.Error())
		os.Exit(1)
	}

	return cfg
}

func loadPolicies(ctx context.Context, path string) *strings.Reader {
	log := logging.GetFromContext(ctx)

	policies, err := os.ReadFile(path)
	if err != nil {
		log.Warn("no authorization policies found, allowing all requests", "path", path)
		return strings.NewReader(defaultPolicies)
	}

	return strings.NewReader(string(policies))
}
