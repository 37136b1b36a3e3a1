package storage

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/reunite/internal/models"
)

// FirestoreStorage implements Store on Cloud Firestore, the store the web client writes to directly.
type FirestoreStorage struct {
	client *firestore.Client
}

// NewFirestoreStorage opens a Firestore client for project. credentialsFile may be empty
// to use application default credentials.
func NewFirestoreStorage(ctx context.Context, project, credentialsFile string) (*FirestoreStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStorage{client: client}, nil
}

func (s *FirestoreStorage) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	snap, err := s.client.Collection(string(collection)).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snapshotRecord(snap, collection), nil
}

func (s *FirestoreStorage) List(ctx context.Context, collection models.Collection) ([]*models.Record, error) {
	snaps, err := s.client.Collection(string(collection)).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	out := make([]*models.Record, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotRecord(snap, collection))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Create writes a new document. createdAt is stamped server-side when the caller omits it.
func (s *FirestoreStorage) Create(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	data := models.MergeFields(map[string]any{}, fields)
	if _, ok := data["createdAt"]; !ok {
		data["createdAt"] = firestore.ServerTimestamp
	}
	if _, err := s.client.Collection(string(collection)).Doc(id).Create(ctx, data); err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	return nil
}

// Merge updates top-level fields. Each key is a single path segment, so dotted keys are not split.
func (s *FirestoreStorage) Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	_, err := s.client.Collection(string(collection)).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return err
}

func (s *FirestoreStorage) Count(ctx context.Context, collection models.Collection) (int64, error) {
	res, err := s.client.Collection(string(collection)).NewAggregationQuery().WithCount("n").Get(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := res["n"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result %T", res["n"])
	}
	return v.GetIntegerValue(), nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func snapshotRecord(snap *firestore.DocumentSnapshot, collection models.Collection) *models.Record {
	return &models.Record{
		ID:         snap.Ref.ID,
		Collection: collection,
		Fields:     snap.Data(),
		CreatedAt:  snap.CreateTime,
		UpdatedAt:  snap.UpdateTime,
	}
}
