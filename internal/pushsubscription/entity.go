package pushsubscription

import "time"

// Subscription is one browser push endpoint, tied to the user who
// registered it so notifications can be targeted.
type Subscription struct {
	ID        string    `yaml:"id"`
	Username  string    `yaml:"username"`
	Endpoint  string    `yaml:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key"`
	CreatedAt time.Time `yaml:"created_at"`
}
