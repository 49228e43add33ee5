package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/realtime"
	"talanoor-go/internal/repository"
	"talanoor-go/pkg/tasks"

	"gorm.io/gorm"
)

// memChatStore 是对话与消息仓储的内存实现，一把锁模拟数据库事务与行锁。
type memChatStore struct {
	mu       sync.Mutex
	convs    map[string]*model.Conversation
	messages map[string][]model.Message
	users    map[uint]*model.User
	nextID   uint
}

func newMemChatStore() *memChatStore {
	return &memChatStore{
		convs:    make(map[string]*model.Conversation),
		messages: make(map[string][]model.Message),
		users:    make(map[uint]*model.User),
	}
}

func (s *memChatStore) Create(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	cp := *conv
	cp.Messages = nil
	s.convs[conv.ID] = &cp
	return nil
}

func (s *memChatStore) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	if cp.UserID != nil {
		cp.User = s.users[*cp.UserID]
	}
	return &cp, nil
}

func (s *memChatStore) FindLatestOpenByUser(_ context.Context, userID uint) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Conversation
	for _, c := range s.convs {
		if c.UserID == nil || *c.UserID != userID || c.IsClosed() {
			continue
		}
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *memChatStore) ListByUser(_ context.Context, userID uint) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0)
	for _, c := range s.convs {
		if c.UserID != nil && *c.UserID == userID {
			cp := *c
			cp.Messages = append([]model.Message{}, s.messages[c.ID]...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memChatStore) List(_ context.Context, f repository.ConversationFilter) ([]model.ConversationSummary, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]model.Conversation, 0)
	for _, c := range s.convs {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Guest != nil && c.IsGuest() != *f.Guest {
			continue
		}
		matched = append(matched, *c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	total := int64(len(matched))
	if f.Limit > 0 {
		if f.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			end := f.Offset + f.Limit
			if end > len(matched) {
				end = len(matched)
			}
			matched = matched[f.Offset:end]
		}
	}
	rows := make([]model.ConversationSummary, 0, len(matched))
	for _, c := range matched {
		msgs := s.messages[c.ID]
		row := model.ConversationSummary{Conversation: c, MessageCount: int64(len(msgs))}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			row.LastMessage = &last
		}
		if c.UserID != nil {
			if u := s.users[*c.UserID]; u != nil {
				row.User = &model.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
			}
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

func (s *memChatStore) UpdateStatus(_ context.Context, id, status string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (s *memChatStore) Append(_ context.Context, msg *model.Message, guard repository.AppendGuard) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[msg.ChatID]
	if !ok {
		return nil, false, gorm.ErrRecordNotFound
	}
	if msg.ClientMsgID != nil {
		for _, m := range s.messages[msg.ChatID] {
			if m.ClientMsgID != nil && *m.ClientMsgID == *msg.ClientMsgID {
				existing := m
				return &existing, false, nil
			}
		}
	}
	if guard != nil {
		locked := *c
		if err := guard(&locked); err != nil {
			return nil, false, err
		}
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], *msg)
	c.UpdatedAt = msg.CreatedAt
	stored := *msg
	return &stored, true, nil
}

func (s *memChatStore) ListByChat(_ context.Context, chatID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message{}, s.messages[chatID]...), nil
}

func (s *memChatStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *memChatStore) messageCount(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[chatID])
}

func (s *memChatStore) conversation(id string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.convs[id]
}

// memUserRepo 是 UserRepository 的内存实现。
type memUserRepo struct {
	mu     sync.Mutex
	users  map[uint]*model.User
	nextID uint
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uint]*model.User)}
}

func (r *memUserRepo) Create(user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) FindByID(userID uint) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByIdentifier(identifier string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == identifier || u.Phone == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) ExistsByPhoneOrEmail(phone, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone || (email != "" && u.Email == email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) Update(user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) FindWithPagination(offset, limit int) ([]model.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.User{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// recordingBroker 记录发布的事件。
type recordingBroker struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroker) Publish(_ context.Context, ev realtime.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string) (<-chan realtime.Event, func(), error) {
	ch := make(chan realtime.Event)
	close(ch)
	return ch, func() {}, nil
}

func (b *recordingBroker) published() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.Event{}, b.events...)
}

// recordingPublisher 记录投递的索引任务。
type recordingPublisher struct {
	mu    sync.Mutex
	tasks []tasks.MessageIndexTask
}

func (p *recordingPublisher) PublishMessageTask(_ context.Context, task tasks.MessageIndexTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

// chatFixture 组装 ChatService 和它的全部替身依赖。
type chatFixture struct {
	store     *memChatStore
	users     *memUserRepo
	broker    *recordingBroker
	publisher *recordingPublisher
	svc       ChatService
	admin     *model.User
	customer  *model.User
}

func newChatFixture() *chatFixture {
	store := newMemChatStore()
	users := newMemUserRepo()
	f := &chatFixture{
		store:     store,
		users:     users,
		broker:    &recordingBroker{},
		publisher: &recordingPublisher{},
	}
	f.admin = &model.User{Name: "پشتیبان", Email: "admin@talanoor.ir", Phone: "09121111111", Role: model.RoleAdmin}
	f.customer = &model.User{Name: "مریم رضایی", Email: "maryam@example.com", Phone: "09122222222", Role: model.RoleUser}
	_ = users.Create(f.admin)
	_ = users.Create(f.customer)
	store.users[f.admin.ID] = f.admin
	store.users[f.customer.ID] = f.customer
	f.svc = NewChatService(store, store, users, f.broker, f.publisher)
	return f
}
