package transfer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// SecretPolicy decides how an empty required secret is filled before a write.
type SecretPolicy string

const (
	SecretsDefault SecretPolicy = "default"
	SecretsPrompt  SecretPolicy = "prompt"
	SecretsRandom  SecretPolicy = "random"
)

// DefaultSecret is the placeholder written under SecretsDefault.
const DefaultSecret = "password"

const randomSecretLength = 32

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ParseSecretPolicy accepts a policy name; "" means default.
func ParseSecretPolicy(s string) (SecretPolicy, error) {
	switch p := SecretPolicy(strings.ToLower(s)); p {
	case "":
		return SecretsDefault, nil
	case SecretsDefault, SecretsPrompt, SecretsRandom:
		return p, nil
	}
	return "", fmt.Errorf("unknown secret policy %q", s)
}

// PromptFunc reads a secret interactively. label names the field.
type PromptFunc func(label string) (string, error)

func randomSecret(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating secret: %w", err)
		}
		b.WriteByte(secretAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// secretValue produces a value for an empty required secret.
func (i *Importer) secretValue(label string) (string, error) {
	switch i.opts.Secrets {
	case SecretsPrompt:
		if i.opts.Prompt == nil {
			return "", fmt.Errorf("%s: secret prompt requested but no terminal is available", label)
		}
		return i.opts.Prompt(label)
	case SecretsRandom:
		return randomSecret(randomSecretLength)
	}
	return DefaultSecret, nil
}

// configField describes one key of a nested configuration mapping.
type configField struct {
	required bool
	secret   bool
}

// secretSet is the secret layout of one nested configuration mapping.
type secretSet map[string]configField

// notificationConfigs lists notification_configuration keys per notification type.
var notificationConfigs = map[string]secretSet{
	"email": {
		"host": {required: true}, "port": {required: true}, "sender": {required: true},
		"recipients": {required: true}, "username": {}, "password": {secret: true},
		"use_tls": {}, "use_ssl": {}, "timeout": {},
	},
	"slack": {
		"channels": {required: true}, "token": {required: true, secret: true}, "hex_color": {},
	},
	"twilio": {
		"account_sid": {required: true}, "account_token": {required: true, secret: true},
		"from_number": {required: true}, "to_numbers": {required: true},
	},
	"pagerduty": {
		"token": {required: true, secret: true}, "subdomain": {required: true},
		"service_key": {required: true}, "client_name": {required: true},
	},
	"grafana": {
		"grafana_url": {required: true}, "grafana_key": {required: true, secret: true},
		"dashboardId": {}, "panelId": {}, "annotation_tags": {}, "grafana_no_verify_ssl": {},
	},
	"webhook": {
		"url": {required: true}, "headers": {required: true}, "http_method": {},
		"username": {}, "password": {secret: true}, "disable_ssl_verification": {},
	},
	"mattermost": {
		"mattermost_url": {required: true}, "mattermost_username": {}, "mattermost_channel": {},
		"mattermost_icon_url": {}, "mattermost_no_verify_ssl": {},
	},
	"rocketchat": {
		"rocketchat_url": {required: true}, "rocketchat_username": {},
		"rocketchat_icon_url": {}, "rocketchat_no_verify_ssl": {},
	},
	"irc": {
		"server": {required: true}, "port": {required: true}, "nickname": {required: true},
		"password": {required: true, secret: true}, "use_ssl": {required: true}, "targets": {required: true},
	},
	"hipchat": {
		"token": {required: true, secret: true}, "rooms": {required: true},
		"message_from": {required: true}, "api_url": {required: true}, "color": {}, "notify": {},
	},
}

// credentialSecrets returns the input layout of a credential type. Lookups
// are cached for the run, separately from the schema cache: they read a
// credential type object, not an OPTIONS document.
func (i *Importer) credentialSecrets(typeID int) (secretSet, error) {
	if set, ok := i.credTypes[typeID]; ok {
		return set, nil
	}
	ct, err := i.reg.GetByID(platform.KindCredentialType, typeID)
	if err != nil {
		return nil, fmt.Errorf("credential type %d: %w", typeID, err)
	}
	set := make(secretSet)
	inputs, _ := ct["inputs"].(map[string]interface{})
	required := make(map[string]bool)
	if req, ok := inputs["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	if fields, ok := inputs["fields"].([]interface{}); ok {
		for _, f := range fields {
			m, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			id := stringField(m, "id")
			set[id] = configField{required: required[id], secret: boolField(m, "secret")}
		}
	}
	i.credTypes[typeID] = set
	return set, nil
}

// nestedConfig returns the nested secret-bearing mapping of a record and its
// layout, or nil when the asset type has none.
func (i *Importer) nestedConfig(t AssetType, fields models.Resource) (key string, set secretSet, warning string, err error) {
	switch t {
	case Credential:
		typeID, ok := numericRef(fields["credential_type"])
		if !ok {
			return "", nil, "", nil
		}
		set, err = i.credentialSecrets(typeID)
		return "inputs", set, "", err
	case NotificationTemplate:
		nt := stringField(fields, "notification_type")
		set, ok := notificationConfigs[nt]
		if !ok {
			return "", nil, fmt.Sprintf("notification type %q is not known, configuration not validated", nt), nil
		}
		return "notification_configuration", set, "", nil
	}
	return "", nil, "", nil
}

// checkNestedConfig reports required configuration keys missing from the
// record. Empty values are allowed; the secret policy fills them.
func checkNestedConfig(key string, set secretSet, fields models.Resource) []error {
	config, _ := fields[key].(map[string]interface{})
	var errs []error
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !set[name].required {
			continue
		}
		if _, ok := config[name]; !ok {
			errs = append(errs, fmt.Errorf("%s.%s is required", key, name))
		}
	}
	return errs
}

// fillSecrets applies the secret policy to a payload about to be written.
// The nested layout is read from record, the full reduced document; an
// update payload carries only the fields that differ. live is the object
// being updated, nil on create. Empty secrets the live object already stores
// are sent as the sentinel, which the controller reads as "keep". Other empty
// required secrets get a value; optional ones are removed.
func (i *Importer) fillSecrets(t AssetType, name string, record, payload, live models.Resource) error {
	creating := live == nil
	if t == User {
		if v, ok := payload["password"]; ok || creating {
			if !isEmpty(v) && v != SecretSentinel {
				return nil
			}
			if !creating {
				delete(payload, "password")
				return nil
			}
			secret, err := i.secretValue(fmt.Sprintf("password for user %s", name))
			if err != nil {
				return err
			}
			payload["password"] = secret
		}
		return nil
	}

	key, set, _, err := i.nestedConfig(t, record)
	if err != nil || set == nil {
		return err
	}
	config, ok := payload[key].(map[string]interface{})
	if !ok {
		return nil
	}
	stored, _ := live[key].(map[string]interface{})
	filled := make(map[string]interface{}, len(config))
	for k, v := range config {
		filled[k] = v
	}
	for field, cf := range set {
		if !cf.secret {
			continue
		}
		v, present := filled[field]
		if !present || (!isEmpty(v) && v != SecretSentinel) {
			continue
		}
		if !isEmpty(stored[field]) {
			filled[field] = SecretSentinel
			continue
		}
		if !cf.required {
			delete(filled, field)
			continue
		}
		secret, err := i.secretValue(fmt.Sprintf("%s.%s for %s %s", key, field, t, name))
		if err != nil {
			return err
		}
		filled[field] = secret
	}
	payload[key] = filled
	return nil
}
