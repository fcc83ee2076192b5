package auth

// GuardSelfModification rejects deleting or deactivating the acting identity.
// Callers apply it before any permission check so that no grant can lift it.
func GuardSelfModification(actor AuthenticatedIdentity, targetID string) error {
	if actor.ID != "" && actor.ID == targetID {
		return ErrSelfModificationDenied
	}
	return nil
}
