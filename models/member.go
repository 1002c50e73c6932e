package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Member is a person whose reports are grouped together. The reports slice
// is the join key used when building cross-report chat context.
type Member struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name          string               `bson:"name" json:"name"`
	Reports       []primitive.ObjectID `bson:"reports" json:"reports"`
	Prescriptions []primitive.ObjectID `bson:"prescriptions,omitempty" json:"prescriptions,omitempty"`
	CreatedAt     time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updated_at" json:"updatedAt"`
}
