package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vovakirdan/chatline-server/internal/store"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
	usersCollection    = "users"
)

// Options configures the MongoDB store.
type Options struct {
	URI      string
	Database string
	// Transactions wraps multi-document writes in a transaction. Requires a replica set.
	// Without it writes follow an idempotent two-step protocol repaired by Sweep.
	Transactions bool
}

// MongoStore implements store.Store on MongoDB.
type MongoStore struct {
	client       *mongo.Client
	chats        *mongo.Collection
	messages     *mongo.Collection
	users        *mongo.Collection
	transactions bool
}

var _ store.Store = (*MongoStore)(nil)

type chatDoc struct {
	ID              string    `bson:"_id"`
	Participants    []string  `bson:"participants"`
	PairKey         string    `bson:"pair_key,omitempty"`
	MessageIDs      []string  `bson:"message_ids"`
	MessageSeq      int64     `bson:"message_seq"`
	PendingDeletion bool      `bson:"pending_deletion"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID          string    `bson:"_id"`
	ChatID      string    `bson:"chat_id"`
	SenderID    string    `bson:"sender_id"`
	RecipientID string    `bson:"recipient_id"`
	Content     string    `bson:"content"`
	MediaURL    string    `bson:"media_url,omitempty"`
	MediaType   string    `bson:"media_type"`
	Seq         int64     `bson:"seq"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	AvatarURL string    `bson:"avatar_url,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, opts Options) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := newFromDatabase(client.Database(opts.Database), opts.Transactions)
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func newFromDatabase(db *mongo.Database, transactions bool) *MongoStore {
	return &MongoStore{
		client:       db.Client(),
		chats:        db.Collection(chatsCollection),
		messages:     db.Collection(messagesCollection),
		users:        db.Collection(usersCollection),
		transactions: transactions,
	}
}

// live matches chats that are not being torn down.
func live() bson.M { return bson.M{"$ne": true} }

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("pair_key_uniq"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}},
			Options: options.Index().SetName("participants_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("create chat indexes: %w", err)
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetName("chat_created_idx"),
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// withTx runs fn inside a transaction when enabled, otherwise directly.
func (s *MongoStore) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// ==== UserStore implementation ====

// UpsertUser creates or refreshes display fields for a user.
func (s *MongoStore) UpsertUser(ctx context.Context, user *store.User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	set := bson.M{"username": user.Username, "updated_at": user.UpdatedAt}
	if user.AvatarURL != "" {
		set["avatar_url"] = user.AvatarURL
	}
	_, err := s.users.UpdateByID(ctx, user.ID, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUsers returns the known users among ids.
func (s *MongoStore) GetUsers(ctx context.Context, ids []string) ([]*store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)

	var users []*store.User
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, &store.User{ID: d.ID, Username: d.Username, AvatarURL: d.AvatarURL, UpdatedAt: d.UpdatedAt})
	}
	return users, cur.Err()
}

// ==== ChatStore implementation ====

// CreateChat persists a new chat.
func (s *MongoStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	chat.UpdatedAt = chat.CreatedAt
	chat.MessageIDs = []string{}

	doc := chatDoc{
		ID:           chat.ID,
		Participants: chat.Participants,
		PairKey:      chat.PairKey,
		MessageIDs:   chat.MessageIDs,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
	if _, err := s.chats.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert chat: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *MongoStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	return s.findChat(ctx, bson.M{"_id": id, "pending_deletion": live()})
}

// GetChatByPairKey retrieves the chat between two users.
func (s *MongoStore) GetChatByPairKey(ctx context.Context, pairKey string) (*store.Chat, error) {
	return s.findChat(ctx, bson.M{"pair_key": pairKey, "pending_deletion": live()})
}

func (s *MongoStore) findChat(ctx context.Context, filter bson.M) (*store.Chat, error) {
	var d chatDoc
	if err := s.chats.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return d.toChat(), nil
}

// ListChats lists chats in natural order.
func (s *MongoStore) ListChats(ctx context.Context, participantID string) ([]*store.Chat, error) {
	filter := bson.M{"pending_deletion": live()}
	if participantID != "" {
		filter["participants"] = participantID
	}
	cur, err := s.chats.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	defer cur.Close(ctx)

	chats := []*store.Chat{}
	for cur.Next(ctx) {
		var d chatDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		chats = append(chats, d.toChat())
	}
	return chats, cur.Err()
}

// DeleteChat removes a chat and all of its messages.
func (s *MongoStore) DeleteChat(ctx context.Context, id string) (store.DeleteReport, error) {
	if s.transactions {
		var report store.DeleteReport
		err := s.withTx(ctx, func(ctx context.Context) error {
			var err error
			report, err = s.deleteChatDocs(ctx, id)
			return err
		})
		if err != nil {
			return store.DeleteReport{}, err
		}
		return report, nil
	}

	// Two-step protocol: flag, delete children, delete parent. Every step is idempotent.
	res, err := s.chats.UpdateByID(ctx, id, bson.M{"$set": bson.M{"pending_deletion": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return store.DeleteReport{}, fmt.Errorf("flag chat for deletion: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.DeleteReport{}, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}

	report, err := s.deleteChatDocs(ctx, id)
	if err != nil {
		var partial *store.PartialDeleteError
		if errors.As(err, &partial) {
			return partial.Report, err
		}
		return report, err
	}
	return report, nil
}

func (s *MongoStore) deleteChatDocs(ctx context.Context, id string) (store.DeleteReport, error) {
	var report store.DeleteReport

	delMsgs, err := s.messages.DeleteMany(ctx, bson.M{"chat_id": id})
	if err != nil {
		return report, &store.PartialDeleteError{ChatID: id, Report: report, Phase: "messages", Err: err}
	}
	report.MessagesDeleted = delMsgs.DeletedCount

	delChat, err := s.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return report, &store.PartialDeleteError{ChatID: id, Report: report, Phase: "chat", Err: err}
	}
	if delChat.DeletedCount == 0 {
		return report, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	report.ChatDeleted = true
	return report, nil
}

// ==== MessageStore implementation ====

// InsertMessage persists msg and appends its id to the owning chat.
func (s *MongoStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	if msg.MediaType == "" {
		msg.MediaType = store.AttachmentNone
	}

	return s.withTx(ctx, func(ctx context.Context) error {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		msg.UpdatedAt = msg.CreatedAt

		var chat chatDoc
		err := s.chats.FindOneAndUpdate(ctx,
			bson.M{"_id": msg.ChatID, "pending_deletion": live()},
			bson.M{"$inc": bson.M{"message_seq": 1}, "$set": bson.M{"updated_at": msg.CreatedAt}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&chat)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return fmt.Errorf("chat %s: %w", msg.ChatID, store.ErrNotFound)
			}
			return fmt.Errorf("bump chat sequence: %w", err)
		}
		msg.Seq = chat.MessageSeq

		if _, err := s.messages.InsertOne(ctx, fromMessage(msg)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		// The reference is appended after the message exists; a crash in between is repaired by Sweep.
		// $addToSet keeps the append a no-op when Sweep already rebuilt the list with this id.
		if _, err := s.chats.UpdateByID(ctx, msg.ChatID, bson.M{"$addToSet": bson.M{"message_ids": msg.ID}}); err != nil {
			return fmt.Errorf("append message reference: %w", err)
		}
		return nil
	})
}

// GetMessage retrieves a message by ID.
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var d messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return d.toMessage(), nil
}

// UpdateMessage replaces content and media of an existing message.
func (s *MongoStore) UpdateMessage(ctx context.Context, msg *store.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	res, err := s.messages.UpdateByID(ctx, msg.ID, bson.M{"$set": bson.M{
		"content":    msg.Content,
		"media_url":  msg.MediaURL,
		"media_type": string(msg.MediaType),
		"updated_at": msg.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, store.ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message and retracts its id from the owning chat.
func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	return s.withTx(ctx, func(ctx context.Context) error {
		var d messageDoc
		if err := s.messages.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
			}
			return fmt.Errorf("delete message: %w", err)
		}

		_, err := s.chats.UpdateByID(ctx, d.ChatID, bson.M{
			"$pull": bson.M{"message_ids": id},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
		if err != nil {
			return fmt.Errorf("retract message reference: %w", err)
		}
		return nil
	})
}

// ListMessages returns messages of a chat ordered by creation time ascending.
func (s *MongoStore) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	messages := []*store.Message{}
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, d.toMessage())
	}
	return messages, cur.Err()
}

// ==== Sweeper implementation ====

// Sweep finishes flagged deletions, removes orphaned messages and rebuilds drifted reference lists.
func (s *MongoStore) Sweep(ctx context.Context) (store.SweepReport, error) {
	var report store.SweepReport

	pending, err := s.chatIDs(ctx, bson.M{"pending_deletion": true})
	if err != nil {
		return report, err
	}
	for _, id := range pending {
		if _, err := s.deleteChatDocs(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return report, fmt.Errorf("finish deletion of %s: %w", id, err)
		}
		report.FinishedDeletions++
	}

	chatIDs, err := s.messages.Distinct(ctx, "chat_id", bson.M{})
	if err != nil {
		return report, fmt.Errorf("distinct message chats: %w", err)
	}
	for _, raw := range chatIDs {
		chatID, ok := raw.(string)
		if !ok {
			continue
		}
		n, err := s.chats.CountDocuments(ctx, bson.M{"_id": chatID})
		if err != nil {
			return report, fmt.Errorf("count chat %s: %w", chatID, err)
		}
		if n > 0 {
			continue
		}
		res, err := s.messages.DeleteMany(ctx, bson.M{"chat_id": chatID})
		if err != nil {
			return report, fmt.Errorf("delete orphans of %s: %w", chatID, err)
		}
		report.OrphanedMessages += res.DeletedCount
	}

	all, err := s.chatIDs(ctx, bson.M{"pending_deletion": live()})
	if err != nil {
		return report, err
	}
	for _, id := range all {
		var fixed int
		err := s.withTx(ctx, func(ctx context.Context) error {
			var err error
			fixed, err = s.rebuildReferences(ctx, id)
			return err
		})
		if err != nil {
			return report, err
		}
		report.DanglingRefs += int64(fixed)
	}

	return report, nil
}

// rebuildReferences resets message_ids of a chat to the ids of its stored messages.
// The write only applies while the list still equals the snapshot it was computed from;
// a concurrent insert or delete makes it a no-op and the next pass retries.
func (s *MongoStore) rebuildReferences(ctx context.Context, chatID string) (int, error) {
	var d chatDoc
	if err := s.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("find chat %s: %w", chatID, err)
	}

	msgs, err := s.ListMessages(ctx, chatID)
	if err != nil {
		return 0, err
	}
	actual := make([]string, 0, len(msgs))
	for _, m := range msgs {
		actual = append(actual, m.ID)
	}
	if slices.Equal(actual, d.MessageIDs) {
		return 0, nil
	}

	res, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": chatID, "message_ids": d.MessageIDs},
		bson.M{"$set": bson.M{"message_ids": actual}},
	)
	if err != nil {
		return 0, fmt.Errorf("rebuild references of %s: %w", chatID, err)
	}
	if res.MatchedCount == 0 {
		return 0, nil
	}
	return symmetricDiff(actual, d.MessageIDs), nil
}

func (s *MongoStore) chatIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cur, err := s.chats.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var d struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode chat id: %w", err)
		}
		ids = append(ids, d.ID)
	}
	return ids, cur.Err()
}

func symmetricDiff(a, b []string) int {
	seen := make(map[string]int, len(a)+len(b))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
	}
	n := 0
	for _, v := range seen {
		if v != 0 {
			n++
		}
	}
	return n
}

func (d *chatDoc) toChat() *store.Chat {
	ids := d.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	return &store.Chat{
		ID:              d.ID,
		Participants:    d.Participants,
		MessageIDs:      ids,
		PairKey:         d.PairKey,
		PendingDeletion: d.PendingDeletion,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func fromMessage(m *store.Message) messageDoc {
	return messageDoc{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		MediaURL:    m.MediaURL,
		MediaType:   string(m.MediaType),
		Seq:         m.Seq,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (d *messageDoc) toMessage() *store.Message {
	return &store.Message{
		ID:          d.ID,
		ChatID:      d.ChatID,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Content:     d.Content,
		MediaURL:    d.MediaURL,
		MediaType:   store.AttachmentKind(d.MediaType),
		Seq:         d.Seq,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
