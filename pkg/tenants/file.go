package tenants

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type fileTenant struct {
	Tenant          `yaml:",inline"`
	Resources       []string `yaml:"resources"`
	ClientSecretEnv string   `yaml:"client_secret_env,omitempty"`
}

type tenantsFile struct {
	LoginHost string       `yaml:"login_host,omitempty"`
	Tenants   []fileTenant `yaml:"tenants"`
}

// LoadFile reads a YAML tenants file:
//
//	login_host: https://login.microsoftonline.us
//	tenants:
//	  - tenant_id: 00000000-0000-0000-0000-000000000001
//	    client_id: app-id
//	    client_secret_env: CONTOSO_CLIENT_SECRET
//	    resources:
//	      - https://api.contoso.example
//	  - tenant_id: fabrikam
//	    authority: https://login.microsoftonline.com/fabrikam
//	    ...
//
// A tenant's authority includes the tenant segment. Without one it defaults to
// {login_host}/{tenant_id}, and login_host defaults to DefaultLoginHost.
// client_secret_env names an environment variable holding the secret and takes
// precedence over an inline client_secret.
func LoadFile(path string) (*Multi, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Multi resolver from the YAML document in data
func Parse(data []byte) (*Multi, error) {
	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	byResource := map[string]Tenant{}
	for _, ft := range file.Tenants {
		tenant := ft.Tenant
		if tenant.Authority == "" && file.LoginHost != "" {
			tenant.Authority = strings.TrimSuffix(file.LoginHost, "/") + "/" + tenant.TenantID
		}
		if ft.ClientSecretEnv != "" {
			tenant.ClientSecret = os.Getenv(ft.ClientSecretEnv)
		}
		if len(ft.Resources) == 0 {
			return nil, fmt.Errorf("tenant %s lists no resources", tenant.TenantID)
		}
		for _, resource := range ft.Resources {
			if _, dup := byResource[resource]; dup {
				return nil, fmt.Errorf("resource %s is assigned to more than one tenant", resource)
			}
			byResource[resource] = tenant
		}
	}
	return NewMulti(byResource)
}
