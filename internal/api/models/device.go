package models

// Device is a registered device as seen by the local API.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DeviceType   string    `json:"deviceType"`
	Platform     string    `json:"platform"`
	TokenLast4   *string   `json:"tokenLast4,omitempty"`
	Model        *string   `json:"model,omitempty"`
	OSVersion    *string   `json:"osVersion,omitempty"`
	AppVersion   *string   `json:"appVersion,omitempty"`
	PushEnabled  bool      `json:"pushEnabled"`
	IsActive     bool      `json:"isActive"`
	IsCurrent    bool      `json:"isCurrent"`
	RegisteredAt Timestamp `json:"registeredAt"`
	LastSeenAt   Timestamp `json:"lastSeenAt"`
}

// DeviceRegisterRequest registers this device with its current push token.
type DeviceRegisterRequest struct {
	PushToken string `json:"pushToken"`
}

// Validate validates the request.
func (r *DeviceRegisterRequest) Validate() []FieldError {
	if r.PushToken == "" {
		return []FieldError{required("pushToken")}
	}
	return nil
}

// DeviceRegisterResponse carries the registration and an access token for it.
type DeviceRegisterResponse struct {
	Device      Device `json:"device"`
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// DeviceList is the list of known devices.
type DeviceList struct {
	Items []Device `json:"items"`
}
