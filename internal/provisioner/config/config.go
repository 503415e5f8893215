// Package config loads and validates the provisioner TOML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	HostName       string   `toml:"hostname"`
	Port           string   `toml:"port"`
	HandleCORS     bool     `toml:"handle_cors"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RequestTimeout string   `toml:"request_timeout"`
}

type DBConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	DBName           string `toml:"dbname"`
	User             string `toml:"user"`
	Password         string `toml:"password"`
	SSLMode          string `toml:"sslmode"`
	MaxOpenConns     int    `toml:"max_open_conns"`
	StatementTimeout string `toml:"statement_timeout"`
}

type AuthConfig struct {
	TokenSigningKey string `toml:"token_signing_key"`
	// SystemUserEmail may reference {project_id}.
	SystemUserEmail string `toml:"system_user_email"`
}

type VaultConfig struct {
	Address      string `toml:"address"`
	Token        string `toml:"token"`
	MountPrefix  string `toml:"mount_prefix"`
	PolicyPrefix string `toml:"policy_prefix"`
	Timeout      string `toml:"timeout"`
}

type RabbitConfig struct {
	ManagementURL string `toml:"management_url"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	VhostTemplate string `toml:"vhost_template"`
	UserTemplate  string `toml:"user_template"`
	InsecureTLS   bool   `toml:"insecure_tls"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type KeycloakConfig struct {
	URL            string `toml:"url"`
	AdminRealm     string `toml:"admin_realm"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	Realm          string `toml:"realm"`
	DefaultGroupID int64  `toml:"default_group_id"`
	InsecureTLS    bool   `toml:"insecure_tls"`
}

// AuxDatabase is an extra Postgres database created for each project. Name
// may reference {project_id}; the resulting name is stored in the project's
// secrets under Key.
type AuxDatabase struct {
	Key  string `toml:"key"`
	Name string `toml:"name"`
}

type ProvisioningConfig struct {
	RollbackOnFailure   bool                `toml:"rollback_on_failure"`
	SchemaTemplate      string              `toml:"schema_template"`
	PersonalProjectName string              `toml:"personal_project_name"`
	PersonalPlugins     []string            `toml:"personal_plugins"`
	PersonalRoles       []string            `toml:"personal_roles"`
	AdminRoles          []string            `toml:"admin_roles"`
	InviteeRoles        []string            `toml:"invitee_roles"`
	Roles               map[string][]string `toml:"roles"`
	AuxDatabases        []AuxDatabase       `toml:"aux_databases"`
	EventTimeout        string              `toml:"event_timeout"`
}

type AdminDefault struct {
	Name string `toml:"name"`
	ID   int64  `toml:"id"`
}

type UsageConfig struct {
	AdminDefaults []AdminDefault `toml:"admin_defaults"`
}

type ConfigParam struct {
	FormatVersion string `toml:"format_version"`
	LogLevel      string `toml:"log_level"`

	Server       ServerConfig       `toml:"server"`
	DB           DBConfig           `toml:"db"`
	Auth         AuthConfig         `toml:"auth"`
	Vault        VaultConfig        `toml:"vault"`
	Rabbit       RabbitConfig       `toml:"rabbit"`
	Redis        RedisConfig        `toml:"redis"`
	Keycloak     KeycloakConfig     `toml:"keycloak"`
	Provisioning ProvisioningConfig `toml:"provisioning"`
	Usage        UsageConfig        `toml:"usage"`
}

var cfg *ConfigParam

// Config returns the configuration loaded by LoadConfig.
func Config() *ConfigParam {
	return cfg
}

// DSN returns the key/value connection string for the primary database.
func (c *ConfigParam) DSN() string {
	d := c.DB
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func (c *ConfigParam) RequestTimeout() time.Duration {
	return durationOr(c.Server.RequestTimeout, 60*time.Second)
}

func (c *ConfigParam) StatementTimeout() time.Duration {
	return durationOr(c.DB.StatementTimeout, 5*time.Second)
}

func (c *ConfigParam) VaultTimeout() time.Duration {
	return durationOr(c.Vault.Timeout, 30*time.Second)
}

func (c *ConfigParam) EventTimeout() time.Duration {
	return durationOr(c.Provisioning.EventTimeout, 5*time.Second)
}

// ExpandID replaces the {key} placeholder in tmpl with id.
func ExpandID(tmpl, key string, id int64) string {
	return strings.ReplaceAll(tmpl, "{"+key+"}", strconv.FormatInt(id, 10))
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func applyDefaults(c *ConfigParam) {
	if c.Server.Port == "" {
		c.Server.Port = "8678"
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	if c.DB.MaxOpenConns <= 0 {
		c.DB.MaxOpenConns = 20
	}
	if c.Auth.SystemUserEmail == "" {
		c.Auth.SystemUserEmail = "system_user_{project_id}@provisioner.local"
	}
	if c.Vault.MountPrefix == "" {
		c.Vault.MountPrefix = "kv-for-project-"
	}
	if c.Vault.PolicyPrefix == "" {
		c.Vault.PolicyPrefix = "policy-for-project-"
	}
	if c.Rabbit.VhostTemplate == "" {
		c.Rabbit.VhostTemplate = "project_{project_id}_vhost"
	}
	if c.Rabbit.UserTemplate == "" {
		c.Rabbit.UserTemplate = "rabbit_user_{project_id}"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "queues:"
	}
	if c.Keycloak.AdminRealm == "" {
		c.Keycloak.AdminRealm = "master"
	}
	if c.Keycloak.DefaultGroupID == 0 {
		c.Keycloak.DefaultGroupID = 1
	}
	p := &c.Provisioning
	if p.SchemaTemplate == "" {
		p.SchemaTemplate = "Project-{project_id}"
	}
	if p.PersonalProjectName == "" {
		p.PersonalProjectName = "personal_project_{user_id}"
	}
	if len(p.PersonalPlugins) == 0 {
		p.PersonalPlugins = []string{"configuration", "models"}
	}
	if len(p.PersonalRoles) == 0 {
		p.PersonalRoles = []string{"editor", "viewer"}
	}
	if len(p.AdminRoles) == 0 {
		p.AdminRoles = []string{"admin"}
	}
	if len(p.InviteeRoles) == 0 {
		p.InviteeRoles = []string{"viewer"}
	}
	if len(p.Roles) == 0 {
		p.Roles = DefaultRoles()
	}
}

// DefaultRoles is the role to permission mapping installed in every project
// when the configuration does not define one.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"admin": {
			"projects.projects.project.view",
			"projects.projects.project.edit",
			"projects.projects.project.delete",
			"configuration.users.users.view",
			"configuration.users.users.edit",
			"performance.tests.tests.view",
			"performance.tests.tests.edit",
		},
		"editor": {
			"projects.projects.project.view",
			"performance.tests.tests.view",
			"performance.tests.tests.edit",
		},
		"viewer": {
			"projects.projects.project.view",
			"performance.tests.tests.view",
		},
	}
}

// ValidateConfig checks required values and fills defaults.
func ValidateConfig(c *ConfigParam) error {
	applyDefaults(c)
	validators := []func(*ConfigParam) error{
		validateFormatVersion,
		validateDBConfig,
		validateAuthConfig,
		validateVaultConfig,
		validateRabbitConfig,
		validateRedisConfig,
		validateKeycloakConfig,
		validateProvisioningConfig,
	}
	for _, v := range validators {
		if err := v(c); err != nil {
			return err
		}
	}
	return nil
}

func validateFormatVersion(c *ConfigParam) error {
	if !IsFormatVersionCompatible(c.FormatVersion) {
		return fmt.Errorf("unsupported config file format version: %q", c.FormatVersion)
	}
	return nil
}

func validateDBConfig(c *ConfigParam) error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if c.DB.DBName == "" {
		return fmt.Errorf("db.dbname is required")
	}
	if c.DB.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if c.DB.StatementTimeout != "" {
		if _, err := time.ParseDuration(c.DB.StatementTimeout); err != nil {
			return fmt.Errorf("invalid db.statement_timeout: %v", err)
		}
	}
	return nil
}

func validateAuthConfig(c *ConfigParam) error {
	if len(c.Auth.TokenSigningKey) < 32 {
		return fmt.Errorf("auth.token_signing_key must be at least 32 characters")
	}
	if !strings.Contains(c.Auth.SystemUserEmail, "{project_id}") {
		return fmt.Errorf("auth.system_user_email must contain {project_id}")
	}
	return nil
}

func validateVaultConfig(c *ConfigParam) error {
	if err := validateURL("vault.address", c.Vault.Address); err != nil {
		return err
	}
	if c.Vault.Token == "" {
		return fmt.Errorf("vault.token is required")
	}
	return nil
}

func validateRabbitConfig(c *ConfigParam) error {
	if err := validateURL("rabbit.management_url", c.Rabbit.ManagementURL); err != nil {
		return err
	}
	if c.Rabbit.User == "" {
		return fmt.Errorf("rabbit.user is required")
	}
	for name, tmpl := range map[string]string{
		"rabbit.vhost_template": c.Rabbit.VhostTemplate,
		"rabbit.user_template":  c.Rabbit.UserTemplate,
	} {
		if !strings.Contains(tmpl, "{project_id}") {
			return fmt.Errorf("%s must contain {project_id}", name)
		}
	}
	return nil
}

func validateRedisConfig(c *ConfigParam) error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}
	return nil
}

func validateKeycloakConfig(c *ConfigParam) error {
	if err := validateURL("keycloak.url", c.Keycloak.URL); err != nil {
		return err
	}
	if c.Keycloak.ClientID == "" || c.Keycloak.ClientSecret == "" {
		return fmt.Errorf("keycloak.client_id and keycloak.client_secret are required")
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("keycloak.realm is required")
	}
	return nil
}

func validateProvisioningConfig(c *ConfigParam) error {
	p := c.Provisioning
	if !strings.Contains(p.SchemaTemplate, "{project_id}") {
		return fmt.Errorf("provisioning.schema_template must contain {project_id}")
	}
	if !strings.Contains(p.PersonalProjectName, "{user_id}") {
		return fmt.Errorf("provisioning.personal_project_name must contain {user_id}")
	}
	roles := append(append(append([]string{}, p.AdminRoles...), p.InviteeRoles...), p.PersonalRoles...)
	for _, r := range roles {
		if _, ok := p.Roles[r]; !ok {
			return fmt.Errorf("provisioning: role %q is not defined in provisioning.roles", r)
		}
	}
	seen := make(map[string]bool)
	for _, db := range p.AuxDatabases {
		if db.Key == "" || !strings.Contains(db.Name, "{project_id}") {
			return fmt.Errorf("provisioning.aux_databases: key is required and name must contain {project_id}")
		}
		if seen[db.Key] {
			return fmt.Errorf("provisioning.aux_databases: duplicate key %q", db.Key)
		}
		seen[db.Key] = true
	}
	if p.EventTimeout != "" {
		if _, err := time.ParseDuration(p.EventTimeout); err != nil {
			return fmt.Errorf("invalid provisioning.event_timeout: %v", err)
		}
	}
	return nil
}

func validateURL(name, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url", name)
	}
	return nil
}

// Parse decodes and validates configuration text that has already been
// rendered by Preprocess.
func Parse(content []byte) (*ConfigParam, error) {
	c := &ConfigParam{}
	if _, err := toml.Decode(string(content), c); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return c, nil
}

// LoadConfig reads filename, renders environment placeholders, validates it
// and makes it available through Config.
func LoadConfig(filename string) (*ConfigParam, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	rendered, err := Preprocess(content)
	if err != nil {
		return nil, err
	}
	c, err := Parse(rendered)
	if err != nil {
		return nil, err
	}
	cfg = c
	return c, nil
}
