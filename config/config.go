// Package config loads handler configuration from the environment.
//
// Every handler reads the variables the deployment stack injects into its
// Lambda function. Missing required values are reported as *api.ConfigError
// naming the variable, before any AWS client is created.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/d-lab/serverless-mephisto/api"
)

const (
	DefaultRegion      = "ap-southeast-2"
	DefaultLogLevel    = "info"
	DefaultMaxAttempts = 3
)

// Common holds settings shared by all handlers.
type Common struct {
	Region      string `env:"AWS_REGION" validate:"required"`
	EndpointURL string `env:"ENDPOINT_URL"` // Custom endpoint URL for simulator mode
	LogLevel    string `env:"LOG_LEVEL"`
	Cluster     string `env:"CLUSTER_NAME" validate:"required"`
}

// Launcher configures the task launcher.
type Launcher struct {
	Common
	AppName        string   `env:"APP_NAME"`
	TaskDefinition string   `env:"TASK_DEFINITION" validate:"required"`
	Subnets        []string `env:"SUBNETS" validate:"required,min=1,dive,required"`
	SecurityGroup  string   `env:"SECURITY_GROUP" validate:"required"`
	ContainerName  string   `env:"CONTAINER_NAME" validate:"required"`
}

// DNS configures the DNS binder.
type DNS struct {
	Common
	AppName      string `env:"APP_NAME" validate:"required"`
	Domain       string `env:"DOMAIN" validate:"required"`
	HostedZoneID string `env:"HOSTED_ZONE_ID" validate:"required"`
}

// RecordName is the fixed name kept pointed at the running task.
func (c DNS) RecordName() string {
	return c.AppName + "." + strings.TrimSuffix(c.Domain, ".")
}

// Sync configures the data synchronizer.
type Sync struct {
	Common
	Bucket      string `env:"BUCKET_NAME" validate:"required"`
	Prefix      string `env:"S3_PATH"`
	MountPath   string `env:"EFS_MOUNTED_FOLDER" validate:"required"`
	MaxAttempts int    `env:"SYNC_MAX_ATTEMPTS" validate:"min=1,max=10"`
}

// New returns a viper instance reading the process environment, with defaults
// applied. Callers may bind CLI flags onto it before loading.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("AWS_REGION", DefaultRegion)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("SYNC_MAX_ATTEMPTS", DefaultMaxAttempts)
	// REGION is accepted as a fallback for AWS_REGION.
	_ = v.BindEnv("AWS_REGION", "AWS_REGION", "REGION")
	return v
}

func loadCommon(v *viper.Viper) Common {
	return Common{
		Region:      v.GetString("AWS_REGION"),
		EndpointURL: v.GetString("ENDPOINT_URL"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Cluster:     v.GetString("CLUSTER_NAME"),
	}
}

// LoadLauncher loads and validates the launcher configuration.
func LoadLauncher(v *viper.Viper) (Launcher, error) {
	subnets, err := ParseSubnets(v.GetString("SUBNETS"))
	if err != nil {
		return Launcher{}, err
	}
	c := Launcher{
		Common:         loadCommon(v),
		AppName:        v.GetString("APP_NAME"),
		TaskDefinition: v.GetString("TASK_DEFINITION"),
		Subnets:        subnets,
		SecurityGroup:  v.GetString("SECURITY_GROUP"),
		ContainerName:  v.GetString("CONTAINER_NAME"),
	}
	return c, Validate(c)
}

// LoadDNS loads and validates the DNS binder configuration.
func LoadDNS(v *viper.Viper) (DNS, error) {
	c := DNS{
		Common:       loadCommon(v),
		AppName:      v.GetString("APP_NAME"),
		Domain:       v.GetString("DOMAIN"),
		HostedZoneID: v.GetString("HOSTED_ZONE_ID"),
	}
	return c, Validate(c)
}

// LoadSync loads and validates the data synchronizer configuration.
func LoadSync(v *viper.Viper) (Sync, error) {
	c := Sync{
		Common:      loadCommon(v),
		Bucket:      v.GetString("BUCKET_NAME"),
		Prefix:      v.GetString("S3_PATH"),
		MountPath:   v.GetString("EFS_MOUNTED_FOLDER"),
		MaxAttempts: v.GetInt("SYNC_MAX_ATTEMPTS"),
	}
	return c, Validate(c)
}

// ParseSubnets accepts a JSON array (as written by the deployment stack) or a
// comma-separated list.
func ParseSubnets(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var subnets []string
		if err := json.Unmarshal([]byte(s), &subnets); err != nil {
			return nil, &api.ConfigError{Field: "SUBNETS", Message: fmt.Sprintf("invalid JSON list: %v", err)}
		}
		return subnets, nil
	}
	return splitCSV(s), nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks the struct's validate tags and reports the first failure
// as an *api.ConfigError.
func Validate(c any) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	if i := strings.Index(field, "["); i >= 0 {
		field = field[:i]
	}
	switch fe.Tag() {
	case "required":
		return &api.ConfigError{Field: field}
	case "min", "max":
		return &api.ConfigError{Field: field, Message: fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())}
	default:
		return &api.ConfigError{Field: field, Message: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
