// Package server assembles the gin HTTP surface: auth, routing, and the
// chat/models/healthz handlers that drive the rest of the gateway (§4.H).
package server

import (
	"gcli2api-go/internal/config"
	"gcli2api-go/internal/credential"
	"gcli2api-go/internal/events"
	"gcli2api-go/internal/imagehost"
	"gcli2api-go/internal/models"
	"gcli2api-go/internal/upstream/gemini"
)

// Namespace identifies one of the two parallel credential/route groups.
type Namespace struct {
	Name    string // "" for the normal namespace, "antigravity" for the other
	Manager *credential.Manager
}

// Deps bundles everything a request handler needs, shared across both
// namespaces.
type Deps struct {
	Config       *config.Config
	Backend      *gemini.Client
	ImageHost    *imagehost.Client
	Hub          *events.Hub
	SuffixConfig models.SuffixConfig

	Normal     Namespace
	Antigravity Namespace
}

func (d *Deps) namespace(name string) Namespace {
	if name == "antigravity" {
		return d.Antigravity
	}
	return d.Normal
}
