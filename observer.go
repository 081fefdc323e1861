package tokenpipe

// SessionObserver is told about session changes made by the pipeline.
// Both methods are called synchronously and must not block for long.
type SessionObserver interface {
	// OnLogout is called after the stored credential has been destroyed
	// because it can no longer be refreshed.
	OnLogout(reason error)

	// OnCredentialUpdated is called after a new credential has been saved.
	OnCredentialUpdated(cred *Credential)
}

// ObserverFuncs adapts plain functions to a SessionObserver. Nil fields are skipped.
type ObserverFuncs struct {
	Logout            func(reason error)
	CredentialUpdated func(cred *Credential)
}

func (o ObserverFuncs) OnLogout(reason error) {
	if o.Logout != nil {
		o.Logout(reason)
	}
}

func (o ObserverFuncs) OnCredentialUpdated(cred *Credential) {
	if o.CredentialUpdated != nil {
		o.CredentialUpdated(cred)
	}
}

// NopObserver ignores all session events.
type NopObserver struct{}

func (NopObserver) OnLogout(error)                  {}
func (NopObserver) OnCredentialUpdated(*Credential) {}
