package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type CloudEnumInput struct {
	Provider    types.SourceType  `json:"provider"`
	Credentials types.Credentials `json:"credentials"`
}

type CloudEnumOutput struct {
	Resources []types.CloudResource `json:"resources"`
}

// enumeratedKinds are the resource kinds pulled per provider account, one
// enumerator run each.
var enumeratedKinds = []types.ServiceSubType{
	types.ServiceSubTypeInstance,
	types.ServiceSubTypeSecurityGroup,
	types.ServiceSubTypeLoadBalancer,
	types.ServiceSubTypeDatabase,
	types.ServiceSubTypeDNSRecord,
	types.ServiceSubTypeBucket,
	types.ServiceSubTypeAPIGateway,
}

type cloudEnum struct {
	cfg    config.CloudEnumConfig
	logger *logger.Logger
}

func NewCloudEnum(cfg config.CloudEnumConfig, log *logger.Logger) *cloudEnum {
	return &cloudEnum{cfg: cfg, logger: log.WithComponent(NameCloudEnum)}
}

func (t *cloudEnum) Name() string { return NameCloudEnum }

// Run enumerates every supported resource kind concurrently through the
// external enumerator binary and folds the results into one resource list.
func (t *cloudEnum) Run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var input CloudEnumInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, types.NewValidationError("undecodable cloudenum input: " + err.Error())
	}
	if !input.Provider.Cloud() {
		return nil, types.NewValidationError(fmt.Sprintf("provider %q is not enumerable", input.Provider))
	}
	if err := input.Credentials.Validate(); err != nil {
		return nil, err
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	env := credentialEnv(input.Credentials)

	var mu sync.Mutex
	output := CloudEnumOutput{}

	g, gctx := errgroup.WithContext(ctx)
	if t.cfg.Parallel > 0 {
		g.SetLimit(t.cfg.Parallel)
	}
	for _, kind := range enumeratedKinds {
		kind := kind
		g.Go(func() error {
			resources, err := t.enumerate(gctx, input.Provider, kind, env)
			if err != nil {
				return fmt.Errorf("failed to enumerate %s: %w", kind, err)
			}
			mu.Lock()
			output.Resources = append(output.Resources, resources...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.NewToolError(NameCloudEnum, err)
	}

	t.logger.Infow("Cloud enumeration finished",
		"provider", input.Provider, "resources", len(output.Resources))
	return output, nil
}

func (t *cloudEnum) enumerate(ctx context.Context, provider types.SourceType, kind types.ServiceSubType, env []string) ([]types.CloudResource, error) {
	cmd := exec.CommandContext(ctx, t.cfg.BinaryPath,
		"-provider", strings.ToLower(string(provider)),
		"-kind", strings.ToLower(string(kind)),
		"-json",
	)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, fmt.Errorf("enumerator exited: %w (%s)", err, detail)
	}

	resources, err := parseResources(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	for i := range resources {
		resources[i].Kind = kind
		resources[i].Provider = provider
	}
	return resources, nil
}

// parseResources accepts either one JSON array or newline-delimited JSON
// objects, whichever the enumerator emits.
func parseResources(data []byte) ([]types.CloudResource, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var resources []types.CloudResource
		if err := json.Unmarshal(trimmed, &resources); err != nil {
			return nil, fmt.Errorf("undecodable enumerator output: %w", err)
		}
		return resources, nil
	}

	var resources []types.CloudResource
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	for decoder.More() {
		var res types.CloudResource
		if err := decoder.Decode(&res); err != nil {
			return nil, fmt.Errorf("undecodable enumerator output: %w", err)
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// credentialEnv maps the provider credential variant onto the environment
// variables the enumerator binary expects.
func credentialEnv(creds types.Credentials) []string {
	env := os.Environ()
	switch creds.Provider {
	case types.SourceTypeAWS:
		env = append(env,
			"AWS_ACCESS_KEY_ID="+creds.AWS.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY="+creds.AWS.SecretAccessKey,
		)
		if creds.AWS.SessionToken != "" {
			env = append(env, "AWS_SESSION_TOKEN="+creds.AWS.SessionToken)
		}
		if len(creds.AWS.Regions) > 0 {
			env = append(env, "AWS_REGION="+creds.AWS.Regions[0])
		}
	case types.SourceTypeGCP:
		env = append(env,
			"GOOGLE_PROJECT_ID="+creds.GCP.ProjectID,
			"GOOGLE_APPLICATION_CREDENTIALS_JSON="+creds.GCP.ServiceAccountJSON,
		)
	case types.SourceTypeAzure:
		env = append(env,
			"AZURE_TENANT_ID="+creds.Azure.TenantID,
			"AZURE_CLIENT_ID="+creds.Azure.ClientID,
			"AZURE_CLIENT_SECRET="+creds.Azure.ClientSecret,
			"AZURE_SUBSCRIPTION_ID="+creds.Azure.SubscriptionID,
		)
	}
	return env
}
