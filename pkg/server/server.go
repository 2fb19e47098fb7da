package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	errs "proxsignal/pkg/errors"
	"proxsignal/pkg/utils"
)

const (
	// 发送心跳包的间隔时间
	pingPeriod = 5 * time.Second
	// pongWait must exceed pingPeriod
	pongWait  = 3 * pingPeriod
	writeWait = 10 * time.Second

	maxMessageSize = 64 * 1024
)

type WebSocketConn struct {
	emission.Emitter
	id        string
	socket    *websocket.Conn
	mutex     *sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewWebSocketConn(id string, socket *websocket.Conn) *WebSocketConn {
	var conn WebSocketConn
	conn.Emitter = *emission.NewEmitter()
	conn.id = id
	conn.socket = socket
	conn.mutex = new(sync.Mutex)
	conn.closed = false
	// socket关闭回调
	conn.socket.SetCloseHandler(func(code int, text string) error {
		utils.WarnF("[%s] %s [%d]", id, text, code)
		conn.emitClose(code, text)
		return nil
	})
	return &conn
}

// ID is the participant identity assigned to this connection.
func (conn *WebSocketConn) ID() string {
	return conn.id
}

// emitClose fires "close" once, whether the peer sent a close frame or the read failed.
func (conn *WebSocketConn) emitClose(code int, text string) {
	conn.closeOnce.Do(func() {
		conn.mutex.Lock()
		conn.closed = true
		conn.mutex.Unlock()
		conn.Emit("close", code, text)
	})
}

// ReadMessage pumps inbound frames into "message" events until the socket fails.
// It also pings the peer every pingPeriod; a peer that stops answering is dropped after pongWait.
func (conn *WebSocketConn) ReadMessage() {
	in := make(chan []byte)
	stop := make(chan struct{})
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	c := conn.socket
	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(stop)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				utils.WarnF("[ReadMessage] %s: %v", conn.id, err)
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					conn.emitClose(closeErr.Code, closeErr.Text)
				} else {
					conn.emitClose(websocket.CloseGoingAway, err.Error())
				}
				return
			}
			in <- message
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			if err := conn.ping(); err != nil {
				utils.WarnF("ping %s failed: %v", conn.id, err)
				_ = c.Close()
			}
		case message := <-in:
			utils.DebugF("接收到数据 %s: %s", conn.id, message)
			conn.Emit("message", message)
		case <-stop:
			return
		}
	}
}

func (conn *WebSocketConn) ping() error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed {
		return errs.ErrConnectionClosed
	}
	return conn.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (conn *WebSocketConn) Send(message []byte) error {
	utils.DebugF("发送数据 %s: %s", conn.id, message)
	//连接加锁
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closed {
		return errs.ErrConnectionClosed
	}
	if err := conn.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.socket.WriteMessage(websocket.TextMessage, message)
}

func (conn *WebSocketConn) Close() error {
	conn.emitClose(websocket.CloseNormalClosure, "closed by server")
	return conn.socket.Close()
}

// 服务配置
type P2PServerConfig struct {
	//IP
	Host string
	//端口
	Port int
	//Cert文件
	CertFile string
	//Key文件
	KeyFile string
	//WebSocket路径
	WebSocketPath string
}

func GetDefaultConfig() P2PServerConfig {
	return P2PServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		WebSocketPath: "/ws",
	}
}

// P2P服务
type P2PServer struct {
	//WebSocket绑定函数,由信令服务处理
	handleWebSocket func(ws *WebSocketConn, request *http.Request)
	//Websocket升级为长连接
	upgrader websocket.Upgrader
	hub      *Hub
	mux      *http.ServeMux
}

func NewP2PServer(hub *Hub, wsHandler func(ws *WebSocketConn, request *http.Request)) *P2PServer {
	server := &P2PServer{
		handleWebSocket: wsHandler,
		hub:             hub,
		mux:             http.NewServeMux(),
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return server
}

// Handle mounts an extra HTTP handler, e.g. metrics, next to the websocket endpoint.
func (server *P2PServer) Handle(pattern string, handler http.Handler) {
	server.mux.Handle(pattern, handler)
}

func (server *P2PServer) handlerWebSocketRequest(writer http.ResponseWriter, request *http.Request) {
	socket, err := server.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		utils.ErrorF("websocket upgrade failed: %v", err)
		return
	}
	wsTransport := NewWebSocketConn(uuid.NewString(), socket)
	server.hub.Add(wsTransport)
	defer func() {
		server.hub.Remove(wsTransport)
		_ = socket.Close()
	}()

	server.handleWebSocket(wsTransport, request)
	wsTransport.ReadMessage()
}

// Handler builds the HTTP surface: the websocket endpoint, a plain text root and any mounted handlers.
func (server *P2PServer) Handler(config P2PServerConfig) http.Handler {
	server.mux.HandleFunc(config.WebSocketPath, server.handlerWebSocketRequest)
	server.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("proximity signaling server"))
	})
	return server.mux
}

// Bind serves until ctx is cancelled. TLS is used when both cert and key files are configured.
func (server *P2PServer) Bind(ctx context.Context, config P2PServerConfig) error {
	httpServer := &http.Server{
		Addr:              config.Host + ":" + strconv.Itoa(config.Port),
		Handler:           server.Handler(config),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.InfoF("P2P server listening on %s", httpServer.Addr)
		if config.CertFile != "" && config.KeyFile != "" {
			errCh <- httpServer.ListenAndServeTLS(config.CertFile, config.KeyFile)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.hub.CloseAll()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
