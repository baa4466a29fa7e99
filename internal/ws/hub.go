package ws

import (
	"sync"
	"sync/atomic"

	"chatapp/internal/metrics"
)

// Hub 是广播路由器：维护房间名到订阅连接集合的映射。
// 作为独立组件注入到会话与 REST handler，两边共用同一个扇出点。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// GetRoom 若房间尚无订阅者则懒加载一个 RoomHub。
func (h *Hub) GetRoom(name string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[name]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[name]
	if room != nil {
		return room
	}
	room = NewRoomHub(name)
	h.rooms[name] = room
	go room.run()
	return room
}

// Publish 把已编码的帧投递给房间当前的全部订阅者。
// 没有订阅者的房间直接丢弃，符合至多一次、不补发的交付模型。
func (h *Hub) Publish(room string, data []byte) {
	if data == nil {
		return
	}
	h.mu.RLock()
	rh := h.rooms[room]
	h.mu.RUnlock()
	if rh == nil {
		return
	}
	rh.broadcast <- outbound{data: data}
}

func (h *Hub) Online(room string) int {
	h.mu.RLock()
	rh := h.rooms[room]
	h.mu.RUnlock()
	if rh == nil {
		return 0
	}
	return rh.Online()
}

// outbound 是一次扇出；skip 不为空时跳过该连接（例如加入通知不发给加入者本人）。
type outbound struct {
	data []byte
	skip *Client
}

type RoomHub struct {
	name       string
	clients    map[*Client]bool
	register   chan *Client
	detach     chan *Client
	unregister chan *Client
	broadcast  chan outbound
	online     int32
}

func NewRoomHub(name string) *RoomHub {
	return &RoomHub{
		name:       name,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		detach:     make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
	}
}

// run 独占订阅者集合，register/unregister/broadcast 全部在这里串行处理，
// 因此同一生产者对同一房间的连续广播按生产顺序到达每个订阅者。
//
// send 通道归连接自己所有，hub 只增删订阅、从不关闭它：
// 摘除慢连接时通过 evict 信号让连接自行收尾，避免向已关闭通道写入。
func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			// 已被摘除的连接正在收尾，不再接受订阅。
			if c.evicted() {
				continue
			}
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.WsSubscriptions.Inc()
		case c := <-rh.detach:
			// 订阅迁移：摘除即可，连接还活着。
			rh.drop(c)
		case c := <-rh.unregister:
			rh.drop(c)
		case out := <-rh.broadcast:
			for c := range rh.clients {
				if c == out.skip {
					continue
				}
				select {
				case c.send <- out.data:
				default:
					// 写不进去的慢连接摘除并通知其自行关闭，避免拖垮整个房间。
					rh.drop(c)
					c.evict()
				}
			}
		}
	}
}

func (rh *RoomHub) drop(c *Client) {
	if _, ok := rh.clients[c]; ok {
		delete(rh.clients, c)
		atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		metrics.WsSubscriptions.Dec()
	}
}

// Online 返回房间当前订阅数，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
