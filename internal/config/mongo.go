package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Reports collection indexes
	reportsCollection := db.Collection("reports")
	reportIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "patient", Value: 1}, {Key: "upload_date", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "collection_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "processing_status", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	}
	_, err := reportsCollection.Indexes().CreateMany(context.Background(), reportIndexes)
	if err != nil {
		return err
	}

	// Chunks collection indexes
	chunksCollection := db.Collection("chunks")
	chunkIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "report", Value: 1}, {Key: "index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "metadata.section", Value: 1}},
		},
	}
	_, err = chunksCollection.Indexes().CreateMany(context.Background(), chunkIndexes)
	if err != nil {
		return err
	}

	// Members collection indexes
	membersCollection := db.Collection("members")
	memberIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "name", Value: 1}},
		},
	}
	_, err = membersCollection.Indexes().CreateMany(context.Background(), memberIndexes)
	if err != nil {
		return err
	}

	return nil
}
