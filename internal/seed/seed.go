package seed

import (
	"context"
	"fmt"
	"math/rand"

	"nosmobile/internal/database"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"
	"nosmobile/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options controls how much data a run creates.
type Options struct {
	Users int
	// FriendsPerUser is how many following users each user befriends.
	FriendsPerUser int
	Groups         int
	// MessagesPerConversation is the number of messages per seeded conversation.
	MessagesPerConversation int
	// Seed makes a run reproducible. Zero picks a random seed.
	Seed int64
}

// Result summarizes a seeding run.
type Result struct {
	Users         []models.User
	Friendships   int
	Conversations []string
	Messages      int
}

// Seeder creates demo data through the service layer so every invariant the
// services enforce holds for seeded rows too.
type Seeder struct {
	db       *gorm.DB
	opts     Options
	factory  *Factory
	rng      *rand.Rand
	identity *service.IdentityService
	friends  *service.FriendService
	convs    *service.ConversationService
	messages *service.MessageService
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.Users < 2 {
		opts.Users = 2
	}
	if opts.FriendsPerUser <= 0 {
		opts.FriendsPerUser = 3
	}
	if opts.MessagesPerConversation < 0 {
		opts.MessagesPerConversation = 0
	}

	userRepo := repository.NewUserRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	convs := service.NewConversationService(convRepo, userRepo, nil)
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Seeder{
		db:       db,
		opts:     opts,
		factory:  NewFactory(seed),
		rng:      rand.New(rand.NewSource(seed)),
		identity: service.NewIdentityService(userRepo, friendRepo, nil),
		friends:  service.NewFriendService(friendRepo, userRepo, nil),
		convs:    convs,
		messages: service.NewMessageService(msgRepo, userRepo, convs, nil, 0),
	}
}

// ClearAll deletes every row of every persistent model.
func (s *Seeder) ClearAll(ctx context.Context) error {
	all := database.PersistentModels()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := len(all) - 1; i >= 0; i-- {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(all[i]).Error; err != nil {
				return fmt.Errorf("clear %T: %w", all[i], err)
			}
		}
		return nil
	})
}

// Run seeds users, a friendship mesh, direct conversations between friends,
// groups and message history.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	for len(res.Users) < s.opts.Users {
		user, created, err := s.identity.Register(ctx, s.factory.BuildUser())
		if err != nil {
			return nil, fmt.Errorf("register user: %w", err)
		}
		if created {
			res.Users = append(res.Users, *user)
		}
	}

	n := len(res.Users)
	for i := range res.Users {
		for k := 1; k <= s.opts.FriendsPerUser && k < n; k++ {
			a, b := res.Users[i], res.Users[(i+k)%n]
			if friends, err := s.identity.IsFriend(ctx, a.ID, b.ID); err != nil {
				return nil, err
			} else if friends {
				continue
			}
			req, err := s.friends.SendRequest(ctx, a.ID, b.ID)
			if models.IsCode(err, models.CodeConflict) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("friend request: %w", err)
			}
			if _, err := s.friends.Respond(ctx, b.ID, req.ID, true); err != nil {
				return nil, fmt.Errorf("accept friend request: %w", err)
			}
			res.Friendships++

			conv, err := s.convs.ResolveDirect(ctx, a.ID, b.ID)
			if err != nil {
				return nil, err
			}
			res.Conversations = append(res.Conversations, conv.ID)
			sent, err := s.chat(ctx, conv.ID, []string{a.ID, b.ID})
			if err != nil {
				return nil, err
			}
			res.Messages += sent
		}
	}

	for g := 0; g < s.opts.Groups; g++ {
		creator := res.Users[s.rng.Intn(n)]
		size := 2 + s.rng.Intn(min(4, n-1))
		var members []string
		for _, idx := range s.rng.Perm(n) {
			if res.Users[idx].ID == creator.ID {
				continue
			}
			members = append(members, res.Users[idx].ID)
			if len(members) == size {
				break
			}
		}
		conv, err := s.convs.CreateGroup(ctx, s.factory.BuildGroupName(), creator.ID, members)
		if err != nil {
			return nil, fmt.Errorf("create group: %w", err)
		}
		res.Conversations = append(res.Conversations, conv.ID)
		sent, err := s.chat(ctx, conv.ID, append([]string{creator.ID}, members...))
		if err != nil {
			return nil, err
		}
		res.Messages += sent
	}

	observability.Info(ctx, "seeding complete",
		zap.Int("users", len(res.Users)),
		zap.Int("friendships", res.Friendships),
		zap.Int("conversations", len(res.Conversations)),
		zap.Int("messages", res.Messages),
	)
	return res, nil
}

// chat appends messages from random members and marks most of them read.
func (s *Seeder) chat(ctx context.Context, conversationID string, members []string) (int, error) {
	for i := 0; i < s.opts.MessagesPerConversation; i++ {
		sender := members[s.rng.Intn(len(members))]
		msg, err := s.messages.Append(ctx, s.factory.BuildMessage(sender, conversationID))
		if err != nil {
			return i, fmt.Errorf("append message: %w", err)
		}
		if s.rng.Intn(4) == 0 {
			continue
		}
		for _, reader := range members {
			if reader == sender {
				continue
			}
			if _, err := s.messages.MarkRead(ctx, reader, msg.ID); err != nil {
				return i, fmt.Errorf("mark read: %w", err)
			}
		}
	}
	return s.opts.MessagesPerConversation, nil
}
