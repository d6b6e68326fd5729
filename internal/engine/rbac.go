package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/repo"
)

// WhoAmIResult reports the roles and flattened permissions an actor holds
// on a project.
type WhoAmIResult struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (e Engine) WhoAmI(ctx context.Context, projectID, actorID string) (WhoAmIResult, error) {
	roles, err := e.Repo.ActorRoles(ctx, projectID, actorID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	permSet, err := e.Repo.ActorPermissions(ctx, projectID, actorID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	perms := make([]string, 0, len(permSet))
	for p := range permSet {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	sort.Strings(roles)
	return WhoAmIResult{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// GrantRole assigns roleID to targetID on the project. The role must exist
// in the configured role set.
func (e Engine) GrantRole(ctx context.Context, projectID, actorID, targetID, roleID string) error {
	if strings.TrimSpace(targetID) == "" {
		return errors.New("actor id is required")
	}
	if err := e.ensureKnownRole(roleID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.nowRFC3339()
	if err := e.Repo.EnsureActor(ctx, tx, targetID, now); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, projectID, targetID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.grant", projectID, "actor", targetID, actorID, events.EventPayload{
		"role": roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes roleID from targetID on the project.
func (e Engine) RevokeRole(ctx context.Context, projectID, actorID, targetID, roleID string) error {
	if strings.TrimSpace(targetID) == "" {
		return errors.New("actor id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, projectID, targetID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.revoke", projectID, "actor", targetID, actorID, events.EventPayload{
		"role": roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ensureKnownRole(roleID string) error {
	if strings.TrimSpace(roleID) == "" {
		return errors.New("role id is required")
	}
	var known map[string]config.RBACRole
	if e.Config != nil {
		known = e.Config.RBAC.Roles
	}
	if _, ok := known[roleID]; ok {
		return nil
	}
	// Built-in role set applies when the config carries no rbac section.
	if len(known) == 0 {
		switch roleID {
		case "admin", "project-manager", "designer", "client":
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", roleID)
}

// CreateAPIKey mints a new key for an actor. The plaintext is returned once
// and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, targetActorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(targetActorID) == "" {
		return domain.APIKey{}, "", errors.New("actor id is required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "sfk_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   targetActorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, targetActorID, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "apikey.create", "", "apikey", key.ID, actorID, events.EventPayload{
		"actor": targetActorID,
		"name":  name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// RevokeAPIKey deletes a key by ID.
func (e Engine) RevokeAPIKey(ctx context.Context, keyID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, keyID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "apikey.revoke", "", "apikey", keyID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
