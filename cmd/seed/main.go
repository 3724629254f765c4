// Command main runs the database seeder for nosmobile.
package main

import (
	"context"
	"flag"
	"log"

	"nosmobile/internal/config"
	"nosmobile/internal/database"
	"nosmobile/internal/ids"
	"nosmobile/internal/seed"
)

func main() {
	// Parse command line flags
	numUsers := flag.Int("users", 20, "Number of users to create")
	friends := flag.Int("friends", 3, "Friends per user")
	groups := flag.Int("groups", 4, "Number of group conversations")
	messages := flag.Int("messages", 25, "Messages per conversation")
	rngSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d friends each, %d groups, %d messages per conversation, clean=%v\n",
		*numUsers, *friends, *groups, *messages, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := ids.Init(cfg.NodeID); err != nil {
		log.Fatalf("Failed to initialize id node: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db, seed.Options{
		Users:                   *numUsers,
		FriendsPerUser:          *friends,
		Groups:                  *groups,
		MessagesPerConversation: *messages,
		Seed:                    *rngSeed,
	})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	res, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Seeded %d users, %d friendships, %d conversations, %d messages",
		len(res.Users), res.Friendships, len(res.Conversations), res.Messages)
	if len(res.Users) > 0 {
		log.Printf("👤 Log in as %q (or any seeded username); no password is needed.", res.Users[0].Username)
	}
}
