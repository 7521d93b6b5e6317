// Package configs provides the embedded configuration template for askrepo.
//
// The template is embedded at build time with //go:embed, so it ships in
// every distribution. 'askrepo config init' writes it to
// ~/.config/askrepo/config.yaml for the operator to edit.
//
// Configuration precedence (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/askrepo/config.yaml)
//  3. Explicit config file (--config)
//  4. Environment variables (ASKREPO_*)
package configs

import _ "embed"

// ConfigTemplate is the annotated configuration file template written by
// 'askrepo config init'.
//
//go:embed config.example.yaml
var ConfigTemplate string
