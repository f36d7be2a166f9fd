// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a default policy. JSON documents are valid
// YAML, so both formats load through the same decoder:
//
//	sessionKey: alice
//	default_policy:
//	  encryption: false
//	  purpose: [purpose0, purpose1]
//	  objection: []
//	  origin: eu
//	  expTime: 0
//	  objShare: [bob]
//	  monitor: true
type File struct {
	SessionKey    *string     `yaml:"sessionKey"`
	DefaultPolicy *filePolicy `yaml:"default_policy"`
}

type filePolicy struct {
	Encryption *bool     `yaml:"encryption"`
	Purpose    *[]string `yaml:"purpose"`
	Objection  *[]string `yaml:"objection"`
	Origin     *string   `yaml:"origin"`
	Expiration *int64    `yaml:"expTime"`
	Share      *[]string `yaml:"objShare"`
	Monitor    *bool     `yaml:"monitor"`
}

// ParseFile decodes a policy document.
func ParseFile(data []byte) (*Default, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConstructionError{Err: fmt.Errorf("%w: %w", ErrInvalidAttribute, err)}
	}

	attrs := make(map[string]string, len(Attributes))
	if f.SessionKey != nil {
		attrs[AttrSessionKey] = *f.SessionKey
	}
	if p := f.DefaultPolicy; p != nil {
		if p.Encryption != nil {
			attrs[AttrEncryption] = strconv.FormatBool(*p.Encryption)
		}
		if p.Purpose != nil {
			attrs[AttrPurpose] = strings.Join(*p.Purpose, ",")
		}
		if p.Objection != nil {
			attrs[AttrObjection] = strings.Join(*p.Objection, ",")
		}
		if p.Origin != nil {
			attrs[AttrOrigin] = *p.Origin
		}
		if p.Expiration != nil {
			attrs[AttrExpiration] = strconv.FormatInt(*p.Expiration, 10)
		}
		if p.Share != nil {
			attrs[AttrShare] = strings.Join(*p.Share, ",")
		}
		if p.Monitor != nil {
			attrs[AttrMonitor] = strconv.FormatBool(*p.Monitor)
		}
	}
	return FromAttributes(attrs)
}

// LoadFile reads and parses the policy document at path.
func LoadFile(path string) (*Default, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseFile(data)
}
