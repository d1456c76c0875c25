package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"chatbridge/internal/models"
)

// maxMembershipAttempts bounds the reconciliation loop in AddRoomSocket.
const maxMembershipAttempts = 5

// MongoStore is the Gateway over MongoDB. Membership uses $addToSet / $pull and
// the close transition is a single conditional update on an empty set.
type MongoStore struct {
	client       *mongo.Client
	rooms        *mongo.Collection
	users        *mongo.Collection
	messages     *mongo.Collection
	watiMessages *mongo.Collection
	contacts     *mongo.Collection
	responses    *mongo.Collection
	settings     *mongo.Collection
}

// OpenMongo connects to uri and ensures the unique indexes exist.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "chat"
	}
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second).
		SetTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	d := client.Database(database)
	store := &MongoStore{
		client:       client,
		rooms:        d.Collection("rooms"),
		users:        d.Collection("users"),
		messages:     d.Collection("messages"),
		watiMessages: d.Collection("wati-messages"),
		contacts:     d.Collection("contacts"),
		responses:    d.Collection("responses"),
		settings:     d.Collection("settings"),
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		// The driver reconnects lazily; operations fail as unavailable until then.
		log.Warn().Err(err).Str("database", database).Msg("MongoDB not reachable at startup")
		return store, nil
	}
	store.ensureIndexes(ctx)
	log.Info().Str("database", database).Msg("MongoDB connection established successfully.")
	return store, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) {
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}, Options: options.Index().SetUnique(true)}
	}
	plain := func(fields ...string) mongo.IndexModel {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		return mongo.IndexModel{Keys: keys}
	}
	specs := map[*mongo.Collection][]mongo.IndexModel{
		m.rooms:        {plain("phone"), plain("connectedSockets"), plain("contactId")},
		m.users:        {unique("phone"), plain("socketId")},
		m.messages:     {plain("roomId", "timestamp"), plain("phone")},
		m.watiMessages: {plain("phone"), plain("roomId"), plain("messageId")},
		m.contacts:     {unique("phone"), unique("username")},
		m.responses:    {unique("atajo")},
	}
	for coll, idx := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			log.Warn().Err(err).Str("collection", coll.Name()).Msg("Could not ensure indexes")
		}
	}
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.wrap("ping", m.client.Ping(ctx, readpref.Primary()))
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (m *MongoStore) collection(coll Collection) (*mongo.Collection, error) {
	switch coll {
	case Rooms:
		return m.rooms, nil
	case Messages:
		return m.messages, nil
	case WatiMessages:
		return m.watiMessages, nil
	}
	return nil, fmt.Errorf("unknown collection %q", coll)
}

func findOptions(sort bson.D, skip, limit int) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetSkip(int64(skip)).SetLimit(int64(limit))
	}
	return opts
}

func normalizeRoom(r *models.Room) {
	if r.ConnectedSockets == nil {
		r.ConnectedSockets = []string{}
	}
}

func normalizeUser(u *models.User) {
	if u.Rooms == nil {
		u.Rooms = []string{}
	}
}

// --- rooms ---

func (m *MongoStore) CreateRoom(ctx context.Context, room *models.Room) error {
	normalizeRoom(room)
	_, err := m.rooms.InsertOne(ctx, room)
	return m.wrap("create room", err)
}

func (m *MongoStore) findRoom(ctx context.Context, op string, filter bson.M) (*models.Room, error) {
	var room models.Room
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := m.rooms.FindOne(ctx, filter, opts).Decode(&room); err != nil {
		return nil, m.wrap(op, err)
	}
	normalizeRoom(&room)
	return &room, nil
}

func (m *MongoStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return m.findRoom(ctx, "get room", bson.M{"_id": models.DocID(id)})
}

func (m *MongoStore) FindRoomByPhone(ctx context.Context, phone string) (*models.Room, error) {
	return m.findRoom(ctx, "find room by phone", bson.M{"phone": phone})
}

func (m *MongoStore) ListRooms(ctx context.Context, skip, limit int) ([]models.Room, error) {
	cur, err := m.rooms.Find(ctx, bson.M{}, findOptions(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}, skip, limit))
	if err != nil {
		return nil, m.wrap("list rooms", err)
	}
	var rooms []models.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, m.wrap("list rooms", err)
	}
	for i := range rooms {
		normalizeRoom(&rooms[i])
	}
	return rooms, nil
}

func (m *MongoStore) DeleteRoom(ctx context.Context, id string) error {
	res, err := m.rooms.DeleteOne(ctx, bson.M{"_id": models.DocID(id)})
	if err != nil {
		return m.wrap("delete room", err)
	}
	if res.DeletedCount == 0 {
		return m.wrap("delete room", ErrNotFound)
	}
	if _, err := m.messages.DeleteMany(ctx, bson.M{"roomId": id}); err != nil {
		return m.wrap("delete room messages", err)
	}
	if _, err := m.watiMessages.UpdateMany(ctx, bson.M{"roomId": models.DocID(id)}, bson.M{"$set": bson.M{"roomId": nil}}); err != nil {
		return m.wrap("unbind room wati messages", err)
	}
	if _, err := m.users.UpdateMany(ctx, bson.M{"rooms": id}, bson.M{"$pull": bson.M{"rooms": id}}); err != nil {
		return m.wrap("unbind room users", err)
	}
	return nil
}

func (m *MongoStore) AddRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error) {
	id := models.DocID(roomID)
	stamp := models.ISOTime(now)
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for attempt := 0; attempt < maxMembershipAttempts; attempt++ {
		var room models.Room
		// Reopen and add in one update while the room is not open.
		err := m.rooms.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "status": bson.M{"$ne": models.RoomStatusOpen}},
			bson.M{
				"$set":      bson.M{"status": models.RoomStatusOpen, "openedAt": stamp, "updatedAt": stamp},
				"$unset":    bson.M{"closedAt": ""},
				"$addToSet": bson.M{"connectedSockets": socketID},
			}, after).Decode(&room)
		if err == nil {
			normalizeRoom(&room)
			return &room, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, m.wrap("add room socket", err)
		}

		// Already open: add only while it stays open.
		err = m.rooms.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "status": models.RoomStatusOpen},
			bson.M{
				"$set":      bson.M{"updatedAt": stamp},
				"$addToSet": bson.M{"connectedSockets": socketID},
			}, after).Decode(&room)
		if err == nil {
			normalizeRoom(&room)
			return &room, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, m.wrap("add room socket", err)
		}

		n, err := m.rooms.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return nil, m.wrap("add room socket", err)
		}
		if n == 0 {
			return nil, m.wrap("add room socket", ErrNotFound)
		}
		// A concurrent leave closed the room between the two updates; retry.
	}
	return nil, fmt.Errorf("add room socket: %w: membership kept changing", ErrUnavailable)
}

func (m *MongoStore) RemoveRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error) {
	id := models.DocID(roomID)
	stamp := models.ISOTime(now)

	res, err := m.rooms.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$pull": bson.M{"connectedSockets": socketID},
		"$set":  bson.M{"updatedAt": stamp},
	})
	if err != nil {
		return nil, m.wrap("remove room socket", err)
	}
	if res.MatchedCount == 0 {
		return nil, m.wrap("remove room socket", ErrNotFound)
	}

	// Close only if the set is still empty when this update applies.
	_, err = m.rooms.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": models.RoomStatusOpen,
		"$or": bson.A{
			bson.M{"connectedSockets": bson.M{"$size": 0}},
			bson.M{"connectedSockets": bson.M{"$exists": false}},
		},
	}, bson.M{"$set": bson.M{"status": models.RoomStatusClosed, "closedAt": stamp}})
	if err != nil {
		return nil, m.wrap("close room", err)
	}
	return m.GetRoom(ctx, roomID)
}

func (m *MongoStore) RoomIDsWithSocket(ctx context.Context, socketID string) ([]string, error) {
	cur, err := m.rooms.Find(ctx, bson.M{"connectedSockets": socketID}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, m.wrap("rooms with socket", err)
	}
	var docs []struct {
		ID models.DocID `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, m.wrap("rooms with socket", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = string(d.ID)
	}
	return ids, nil
}

// --- users ---

func (m *MongoStore) UpsertUserByPhone(ctx context.Context, phone string, now time.Time) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$setOnInsert": bson.M{
		"_id":         models.NewDocID(),
		"isConnected": false,
		"rooms":       bson.A{},
		"role":        models.DefaultUserRole,
		"createdAt":   models.ISOTime(now),
	}}
	var user models.User
	err := m.users.FindOneAndUpdate(ctx, bson.M{"phone": phone}, update, opts).Decode(&user)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an insert race against another upsert; the winner's record exists now.
		err = m.users.FindOne(ctx, bson.M{"phone": phone}).Decode(&user)
	}
	if err != nil {
		return nil, m.wrap("upsert user", err)
	}
	normalizeUser(&user)
	return &user, nil
}

func (m *MongoStore) findUsers(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cur, err := m.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, m.wrap(op, err)
	}
	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, m.wrap(op, err)
	}
	for i := range users {
		normalizeUser(&users[i])
	}
	return users, nil
}

func (m *MongoStore) FindUserBySocket(ctx context.Context, socketID string) (*models.User, error) {
	var user models.User
	opts := options.FindOne().SetSort(bson.D{{Key: "connectedAt", Value: -1}})
	if err := m.users.FindOne(ctx, bson.M{"socketId": socketID}, opts).Decode(&user); err != nil {
		return nil, m.wrap("find user by socket", err)
	}
	normalizeUser(&user)
	return &user, nil
}

func (m *MongoStore) UsersBySockets(ctx context.Context, socketIDs []string) ([]models.User, error) {
	if len(socketIDs) == 0 {
		return nil, nil
	}
	return m.findUsers(ctx, "users by sockets", bson.M{"socketId": bson.M{"$in": socketIDs}}, options.Find())
}

func (m *MongoStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return m.findUsers(ctx, "list users", bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}))
}

func (m *MongoStore) MarkUserConnected(ctx context.Context, userID, socketID string, now time.Time) error {
	stamp := models.ISOTime(now)
	res, err := m.users.UpdateOne(ctx, bson.M{"_id": models.DocID(userID)}, bson.M{
		"$set":   bson.M{"socketId": socketID, "isConnected": true, "connectedAt": stamp, "updatedAt": stamp},
		"$unset": bson.M{"disconnectedAt": ""},
	})
	if err == nil && res.MatchedCount == 0 {
		err = ErrNotFound
	}
	return m.wrap("mark user connected", err)
}

func (m *MongoStore) MarkUserDisconnected(ctx context.Context, userID, socketID string, now time.Time) (bool, error) {
	stamp := models.ISOTime(now)
	filter := bson.M{"_id": models.DocID(userID)}
	if socketID != "" {
		filter["socketId"] = socketID
	}
	res, err := m.users.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"isConnected": false, "disconnectedAt": stamp, "updatedAt": stamp},
		"$unset": bson.M{"socketId": ""},
	})
	if err != nil {
		return false, m.wrap("mark user disconnected", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *MongoStore) AddUserRoom(ctx context.Context, userID, roomID string) error {
	_, err := m.users.UpdateOne(ctx, bson.M{"_id": models.DocID(userID)}, bson.M{"$addToSet": bson.M{"rooms": roomID}})
	return m.wrap("add user room", err)
}

// --- messages ---

func (m *MongoStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := m.messages.InsertOne(ctx, msg)
	return m.wrap("insert message", err)
}

func (m *MongoStore) MessagesByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	cur, err := m.messages.Find(ctx, bson.M{"roomId": roomID}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, m.wrap("messages by room", err)
	}
	var msgs []models.ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, m.wrap("messages by room", err)
	}
	return msgs, nil
}

func (m *MongoStore) CountMessagesByRoom(ctx context.Context, roomID string) (int64, error) {
	n, err := m.messages.CountDocuments(ctx, bson.M{"roomId": roomID})
	return n, m.wrap("count messages", err)
}

func (m *MongoStore) InsertWatiMessage(ctx context.Context, msg *models.WatiMessage) error {
	_, err := m.watiMessages.InsertOne(ctx, msg)
	return m.wrap("insert wati message", err)
}

func (m *MongoStore) WatiMessagesForRoom(ctx context.Context, roomID, phone string) ([]models.WatiMessage, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"roomId": models.DocID(roomID)},
		bson.M{"roomId": nil, "phone": phone},
	}}
	cur, err := m.watiMessages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "messageId", Value: 1}}))
	if err != nil {
		return nil, m.wrap("wati messages for room", err)
	}
	var msgs []models.WatiMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, m.wrap("wati messages for room", err)
	}
	return msgs, nil
}

func (m *MongoStore) CountWatiMessagesByPhone(ctx context.Context, phone string) (int64, error) {
	n, err := m.watiMessages.CountDocuments(ctx, bson.M{"phone": phone})
	return n, m.wrap("count wati messages", err)
}

func (m *MongoStore) BindOrphanWatiMessages(ctx context.Context, phone, roomID string) (int64, error) {
	res, err := m.watiMessages.UpdateMany(ctx, bson.M{"roomId": nil, "phone": phone}, bson.M{"$set": bson.M{"roomId": models.DocID(roomID)}})
	if err != nil {
		return 0, m.wrap("bind orphan wati messages", err)
	}
	return res.ModifiedCount, nil
}

// --- contacts ---

func (m *MongoStore) CreateContact(ctx context.Context, c *models.Contact) error {
	_, err := m.contacts.InsertOne(ctx, c)
	return m.wrap("create contact", err)
}

func (m *MongoStore) findContact(ctx context.Context, op string, filter bson.M) (*models.Contact, error) {
	var c models.Contact
	if err := m.contacts.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, m.wrap(op, err)
	}
	return &c, nil
}

func (m *MongoStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return m.findContact(ctx, "get contact", bson.M{"_id": models.DocID(id)})
}

func (m *MongoStore) FindContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	return m.findContact(ctx, "find contact by phone", bson.M{"phone": phone})
}

func (m *MongoStore) ContactTaken(ctx context.Context, phone, username, excludeID string) (string, error) {
	filter := bson.M{
		"_id": bson.M{"$ne": models.DocID(excludeID)},
		"$or": bson.A{bson.M{"phone": phone}, bson.M{"username": username}},
	}
	cur, err := m.contacts.Find(ctx, filter)
	if err != nil {
		return "", m.wrap("contact taken", err)
	}
	var found []models.Contact
	if err := cur.All(ctx, &found); err != nil {
		return "", m.wrap("contact taken", err)
	}
	for _, c := range found {
		if phone != "" && c.Phone == phone {
			return "phone", nil
		}
	}
	for _, c := range found {
		if username != "" && c.Username == username {
			return "username", nil
		}
	}
	return "", nil
}

func (m *MongoStore) ListContacts(ctx context.Context, search string, skip, limit int) ([]models.Contact, int64, error) {
	filter := bson.M{}
	if search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = bson.A{bson.M{"phone": re}, bson.M{"username": re}}
	}
	total, err := m.contacts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, m.wrap("list contacts", err)
	}
	cur, err := m.contacts.Find(ctx, filter, findOptions(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}, skip, limit))
	if err != nil {
		return nil, 0, m.wrap("list contacts", err)
	}
	var contacts []models.Contact
	if err := cur.All(ctx, &contacts); err != nil {
		return nil, 0, m.wrap("list contacts", err)
	}
	return contacts, total, nil
}

func (m *MongoStore) UpdateContact(ctx context.Context, c *models.Contact) error {
	res, err := m.contacts.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err == nil && res.MatchedCount == 0 {
		err = ErrNotFound
	}
	return m.wrap("update contact", err)
}

// --- contact fan-out ---

func (m *MongoStore) updateMany(ctx context.Context, op string, coll Collection, filter, update bson.M) (int64, error) {
	c, err := m.collection(coll)
	if err != nil {
		return 0, err
	}
	res, err := c.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, m.wrap(op+" "+string(coll), err)
	}
	return res.ModifiedCount, nil
}

func (m *MongoStore) LinkContactByPhone(ctx context.Context, coll Collection, phone, contactID, username string) (int64, error) {
	set := bson.M{"contactId": models.DocID(contactID)}
	if coll == Rooms {
		set["username"] = username
	}
	return m.updateMany(ctx, "link contact", coll, bson.M{"phone": phone}, bson.M{"$set": set})
}

func (m *MongoStore) ReplacePhone(ctx context.Context, coll Collection, oldPhone, newPhone string) (int64, error) {
	return m.updateMany(ctx, "replace phone", coll, bson.M{"phone": oldPhone}, bson.M{"$set": bson.M{"phone": newPhone}})
}

func (m *MongoStore) RenameContactRooms(ctx context.Context, contactID, username string) (int64, error) {
	return m.updateMany(ctx, "rename contact", Rooms, bson.M{"contactId": models.DocID(contactID)}, bson.M{"$set": bson.M{"username": username}})
}

func (m *MongoStore) ReplaceTags(ctx context.Context, coll Collection, contactID, tags string) (int64, error) {
	return m.updateMany(ctx, "replace tags", coll, bson.M{"contactId": models.DocID(contactID)}, bson.M{"$set": bson.M{"tags": tags}})
}

// --- responses ---

func (m *MongoStore) ListResponses(ctx context.Context, atajo string) ([]models.Response, error) {
	filter := bson.M{}
	if atajo != "" {
		filter["atajo"] = primitive.Regex{Pattern: regexp.QuoteMeta(atajo), Options: "i"}
	}
	cur, err := m.responses.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, m.wrap("list responses", err)
	}
	var out []models.Response
	if err := cur.All(ctx, &out); err != nil {
		return nil, m.wrap("list responses", err)
	}
	for i := range out {
		if out[i].Triggers == nil {
			out[i].Triggers = []string{}
		}
	}
	return out, nil
}

func (m *MongoStore) findResponse(ctx context.Context, op string, filter bson.M) (*models.Response, error) {
	var r models.Response
	if err := m.responses.FindOne(ctx, filter).Decode(&r); err != nil {
		return nil, m.wrap(op, err)
	}
	if r.Triggers == nil {
		r.Triggers = []string{}
	}
	return &r, nil
}

func (m *MongoStore) GetResponse(ctx context.Context, id string) (*models.Response, error) {
	return m.findResponse(ctx, "get response", bson.M{"_id": models.DocID(id)})
}

func (m *MongoStore) FindResponseByAtajo(ctx context.Context, atajo string) (*models.Response, error) {
	return m.findResponse(ctx, "find response by atajo", bson.M{"atajo": atajo})
}

func (m *MongoStore) CreateResponse(ctx context.Context, r *models.Response) error {
	if r.Triggers == nil {
		r.Triggers = []string{}
	}
	_, err := m.responses.InsertOne(ctx, r)
	return m.wrap("create response", err)
}

func (m *MongoStore) UpdateResponse(ctx context.Context, r *models.Response) error {
	if r.Triggers == nil {
		r.Triggers = []string{}
	}
	res, err := m.responses.ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err == nil && res.MatchedCount == 0 {
		err = ErrNotFound
	}
	return m.wrap("update response", err)
}

func (m *MongoStore) DeleteResponse(ctx context.Context, id string) error {
	res, err := m.responses.DeleteOne(ctx, bson.M{"_id": models.DocID(id)})
	if err == nil && res.DeletedCount == 0 {
		err = ErrNotFound
	}
	return m.wrap("delete response", err)
}

// --- settings ---

func (m *MongoStore) GetSettings(ctx context.Context, id string) (*models.Settings, error) {
	var st models.Settings
	if err := m.settings.FindOne(ctx, bson.M{"_id": models.DocID(id)}).Decode(&st); err != nil {
		return nil, m.wrap("get settings", err)
	}
	return &st, nil
}

func (m *MongoStore) SaveSettings(ctx context.Context, st *models.Settings) error {
	_, err := m.settings.ReplaceOne(ctx, bson.M{"_id": st.ID}, st, options.Replace().SetUpsert(true))
	return m.wrap("save settings", err)
}
