package services

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"patient-buddy-backend/models"
)

// MemberStore is the persistence surface for family members.
type MemberStore interface {
	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error)
}

// MemberService manages the family members reports are grouped under.
type MemberService struct {
	store MemberStore
}

func NewMemberService(store MemberStore) *MemberService {
	return &MemberService{store: store}
}

func (s *MemberService) Create(ctx context.Context, name string) (*models.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingFields
	}

	member := &models.Member{
		Name:    name,
		Reports: []primitive.ObjectID{},
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

func (s *MemberService) Get(ctx context.Context, memberID string) (*models.Member, error) {
	id, err := primitive.ObjectIDFromHex(memberID)
	if err != nil {
		return nil, ErrInvalidID
	}
	return s.store.GetMember(ctx, id)
}
