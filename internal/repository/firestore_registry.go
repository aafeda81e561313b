package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/speedwaystore/admin-push/internal/models"
)

const (
	DefaultSubscriberCollection = "users"
	DefaultAddressField         = "fcmToken"
)

// NewFirestoreClient opens a Firestore client authenticated with the service
// account file.
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return client, nil
}

// FirestoreRegistry reads subscribers from a Firestore collection.
type FirestoreRegistry struct {
	client       *firestore.Client
	collection   string
	addressField string
}

func NewFirestoreRegistry(client *firestore.Client, collection, addressField string) *FirestoreRegistry {
	if collection == "" {
		collection = DefaultSubscriberCollection
	}
	if addressField == "" {
		addressField = DefaultAddressField
	}
	return &FirestoreRegistry{
		client:       client,
		collection:   collection,
		addressField: addressField,
	}
}

// SubscribersByRole returns every document whose role field equals role,
// projected to the address field.
func (r *FirestoreRegistry) SubscribersByRole(ctx context.Context, role string) ([]models.Subscriber, error) {
	docs, err := r.client.Collection(r.collection).
		Where("role", "==", role).
		Select(r.addressField).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.collection, err)
	}

	subs := make([]models.Subscriber, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, subscriberFromData(doc.Ref.ID, doc.Data(), r.addressField))
	}
	return subs, nil
}

func subscriberFromData(id string, data map[string]interface{}, field string) models.Subscriber {
	return models.Subscriber{ID: id, Address: data[field]}
}
