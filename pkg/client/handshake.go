package client

import (
	"fmt"

	"github.com/sessamekesh/kbengine-netcode-client/internal"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/events"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/message"
	"go.uber.org/zap"
)

func (c *Client) bindHandlers() {
	bind := map[string]message.Handler{
		message.ClientOnImportClientMessages:    c.onImportClientMessages,
		message.ClientOnImportServerErrorsDescr: c.onImportServerErrorsDescr,
		message.ClientOnHelloCB:                 c.onHelloCB,
		message.ClientOnVersionNotMatch:         c.onVersionNotMatch,
		message.ClientOnScriptVersionNotMatch:   c.onScriptVersionNotMatch,
		message.ClientOnLoginSuccessfully:       c.onLoginSuccessfully,
		message.ClientOnLoginFailed:             c.onLoginFailed,
		message.ClientOnCreateAccountResult:     c.onCreateAccountResult,
		message.ClientOnLoginBaseappFailed:      c.onLoginBaseappFailed,
		message.ClientOnReloginBaseappFailed:    c.onReloginBaseappFailed,
		message.ClientOnReloginBaseappSuccess:   c.onReloginBaseappSuccessfully,
		message.ClientOnCreatedProxies:          c.onCreatedProxies,
		message.ClientOnKicked:                  c.onKicked,
		message.ClientOnAppActiveTickCB:         c.onAppActiveTickCB,

		message.ClientOnStreamDataStarted:   c.onStreamDataStarted,
		message.ClientOnStreamDataRecv:      c.onStreamDataRecv,
		message.ClientOnStreamDataCompleted: c.onStreamDataCompleted,
		message.ClientOnEntityEnterWorld:    c.onEntityEnterWorld,
		message.ClientOnEntityLeaveWorld:    c.onEntityLeaveWorld,
		message.ClientOnSetEntityPosAndDir:  c.onSetEntityPosAndDir,
		message.ClientOnUpdateBasePos:       c.onUpdateBasePos,
		message.ClientOnUpdateBasePosXZ:     c.onUpdateBasePosXZ,
		message.ClientOnUpdateDataXZ:        c.onUpdateDataXZ,
		message.ClientOnUpdateDataXYZ:       c.onUpdateDataXYZ,
		message.ClientOnUpdateDataYPR:       c.onUpdateDataYPR,
		message.ClientOnUpdateDataXYZYPR:    c.onUpdateDataXYZYPR,
		message.ClientInitSpaceData:         c.onInitSpaceData,
		message.ClientSetSpaceData:          c.onSetSpaceData,
		message.ClientDelSpaceData:          c.onDelSpaceData,
	}
	for name, handler := range bind {
		c.registry.BindHandler(name, handler)
	}
}

// beginNegotiation fetches the message table of conn's server unless the
// store already holds one from an earlier negotiation.
func (c *Client) beginNegotiation(conn *connection) {
	if table, has := c.store.MessageTable(string(conn.server)); has {
		if _, err := c.registry.RegisterAll(table); err != nil {
			c.abort(conn, fmt.Errorf("registering cached message table: %w", err))
			return
		}
		c.log.Debug("Using cached message table", zap.String("server", string(conn.server)), zap.Int("count", len(table)))
		c.onNegotiationComplete(conn)
		return
	}

	c.dispatcher.Fire(events.ImportRequested{Server: conn.server})

	request := message.LoginappImportClientMessages
	if conn.server == events.ServerGameplay {
		request = message.BaseappImportClientMessages
	}
	c.log.Info("Importing client messages", zap.String("server", string(conn.server)))
	if err := c.send(request); err != nil {
		c.abort(conn, err)
	}
}

func (c *Client) onImportClientMessages(body *memstream.MemoryStream) error {
	conn := c.active
	if conn == nil {
		return nil
	}

	descs, err := message.ReadDescriptorTable(body)
	if err != nil {
		return fmt.Errorf("importing client messages: %w", err)
	}
	n, err := c.registry.RegisterAll(descs)
	if err != nil {
		c.abort(conn, fmt.Errorf("importing client messages: %w", err))
		return nil
	}
	c.log.Info("Imported client messages", zap.Int("count", n), zap.String("server", string(conn.server)))
	c.store.SetMessageTable(string(conn.server), descs)

	c.onNegotiationComplete(conn)
	return nil
}

// onNegotiationComplete runs once the message table is known: the hello
// exchange checks versions before any credentials are sent.
func (c *Client) onNegotiationComplete(conn *connection) {
	if conn.server == events.ServerLogin {
		if !c.config.SkipServerErrorImport && !c.store.HasServerErrors() {
			if _, has := c.registry.ByName(message.LoginappImportServerErrorsDescr); has {
				if err := c.send(message.LoginappImportServerErrorsDescr); err != nil {
					c.log.Warn("Failed to request server error table", zap.Error(err))
				}
			}
		}
		c.sendHello(conn, message.LoginappHello)
		return
	}

	c.sendHello(conn, message.BaseappHello)
}

func (c *Client) sendHello(conn *connection, name string) {
	key := c.config.EncryptedKey
	if key == nil {
		key = []byte{}
	}
	if err := c.send(name, c.config.ClientVersion, c.config.ScriptVersion, key); err != nil {
		c.abort(conn, fmt.Errorf("sending %s: %w", name, err))
	}
}

// abort ends a handshake that cannot continue on conn. Nothing happens if
// conn was already dropped, e.g. by the send failure being reported.
func (c *Client) abort(conn *connection, err error) {
	if c.State() == StateDisconnected || c.connectionFor(conn.handle.ID()) != conn {
		return
	}

	c.log.Error("Handshake aborted", zap.String("server", string(conn.server)), zap.Stringer("state", c.State()), zap.Error(err))
	wasOpen := conn.opened
	c.fail(conn.server, conn.handle.RemoteAddress(), err)
	if wasOpen {
		c.dispatcher.Fire(events.Disconnected{Server: conn.server, Err: err})
	}
}

func (c *Client) onHelloCB(body *memstream.MemoryStream) error {
	var versions internal.ServerVersions
	var err error
	if versions.Version, err = body.ReadString(); err != nil {
		return err
	}
	if versions.ScriptVersion, err = body.ReadString(); err != nil {
		return err
	}
	if versions.ProtocolMD5, err = body.ReadString(); err != nil {
		return err
	}
	if versions.EntityDefMD5, err = body.ReadString(); err != nil {
		return err
	}
	ctype, err := body.ReadInt32()
	if err != nil {
		return err
	}

	if c.active == nil {
		return nil
	}
	server := c.active.server
	c.store.SetServerVersions(string(server), versions)
	c.log.Info("Hello acknowledged",
		zap.String("server", string(server)),
		zap.String("serverVersion", versions.Version),
		zap.String("serverScriptVersion", versions.ScriptVersion),
		zap.Int32("componentType", ctype))

	conn := c.active
	var name string
	var values []any
	switch {
	case server == events.ServerLogin && c.creatingAccount:
		c.setState(StateConnectedLogin)
		name, values = message.LoginappReqCreateAccount, []any{c.username, c.password, c.clientDatasOrEmpty()}
	case server == events.ServerLogin:
		c.setState(StateConnectedLogin)
		name, values = message.LoginappLogin, []any{c.config.ClientType, c.clientDatasOrEmpty(), c.username, c.password}
	case c.relogin:
		name, values = message.BaseappReloginBaseapp, []any{c.username, c.password, c.entityUUID, c.entityID}
	default:
		name, values = message.BaseappLoginBaseapp, []any{c.username, c.password}
	}

	if err := c.send(name, values...); err != nil {
		c.abort(conn, fmt.Errorf("sending %s: %w", name, err))
	}
	return nil
}

func (c *Client) clientDatasOrEmpty() []byte {
	if c.clientDatas == nil {
		return []byte{}
	}
	return c.clientDatas
}

func (c *Client) onVersionNotMatch(body *memstream.MemoryStream) error {
	serverVersion, err := body.ReadString()
	if err != nil {
		return err
	}
	c.log.Error("Engine version mismatch", zap.String("client", c.config.ClientVersion), zap.String("server", serverVersion))
	c.dispatcher.Fire(events.VersionMismatch{ClientVersion: c.config.ClientVersion, ServerVersion: serverVersion})
	c.endLoginSpan(&errors.VersionMismatch{ClientVersion: c.config.ClientVersion, ServerVersion: serverVersion})
	return nil
}

func (c *Client) onScriptVersionNotMatch(body *memstream.MemoryStream) error {
	serverVersion, err := body.ReadString()
	if err != nil {
		return err
	}
	c.log.Error("Script version mismatch", zap.String("client", c.config.ScriptVersion), zap.String("server", serverVersion))
	c.dispatcher.Fire(events.ScriptVersionMismatch{ClientVersion: c.config.ScriptVersion, ServerVersion: serverVersion})
	c.endLoginSpan(&errors.VersionMismatch{IsScriptVersion: true, ClientVersion: c.config.ScriptVersion, ServerVersion: serverVersion})
	return nil
}

// onImportServerErrorsDescr reads count:uint16 { id:uint16 name:blob descr:blob }.
func (c *Client) onImportServerErrorsDescr(body *memstream.MemoryStream) error {
	count, err := body.ReadUint16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		id, err := body.ReadUint16()
		if err != nil {
			return err
		}
		name, err := body.ReadBlob()
		if err != nil {
			return err
		}
		descr, err := body.ReadBlob()
		if err != nil {
			return err
		}
		c.store.SetServerError(internal.ServerErrorDescr{Id: id, Name: string(name), Descr: string(descr)})
	}
	c.log.Debug("Imported server error descriptions", zap.Uint16("count", count))
	return nil
}

func (c *Client) onLoginSuccessfully(body *memstream.MemoryStream) error {
	account, err := body.ReadString()
	if err != nil {
		return err
	}
	host, err := body.ReadString()
	if err != nil {
		return err
	}
	tcpPort, err := body.ReadUint16()
	if err != nil {
		return err
	}
	udpPort, err := body.ReadUint16()
	if err != nil {
		return err
	}
	datas, err := body.ReadBlob()
	if err != nil {
		return err
	}

	c.serverDatas = append([]byte(nil), datas...)
	c.gameplayHost = host
	c.gameplayTCP = tcpPort
	c.gameplayUDP = udpPort
	c.log.Info("Login accepted", zap.String("account", account), zap.String("host", host), zap.Uint16("tcpPort", tcpPort), zap.Uint16("udpPort", udpPort))
	c.dispatcher.Fire(events.LoginSuccess{Account: account, Host: host, TCPPort: tcpPort, UDPPort: udpPort, Datas: c.serverDatas})

	return c.connectGameplay()
}

// connectGameplay opens the gameplay tier while the login connection stays
// up until the new one is confirmed.
func (c *Client) connectGameplay() error {
	address := c.gameplayAddress()
	c.setState(StateConnectingGameplay)
	c.dispatcher.Fire(events.LoginGameplay{Address: address})

	conn, err := c.open(c.ctx, c.gameplayTransport, address, events.ServerGameplay)
	if err != nil {
		c.fail(events.ServerGameplay, address, err)
		return nil
	}
	c.pending = conn
	return nil
}

func (c *Client) onLoginFailed(body *memstream.MemoryStream) error {
	code, err := body.ReadUint16()
	if err != nil {
		return err
	}
	datas, err := body.ReadBlob()
	if err != nil {
		return err
	}

	name := c.store.ServerErrorName(code)
	c.log.Warn("Login failed", zap.Uint16("code", code), zap.String("name", name))
	c.metrics.loginAttempts.WithLabelValues("failed").Inc()
	c.dispatcher.Fire(events.LoginFailed{Code: code, Name: name, Datas: append([]byte(nil), datas...)})
	c.endLoginSpan(fmt.Errorf("login failed: %d %s", code, name))
	return nil
}

// onCreateAccountResult reads retcode:uint16 datas:blob. The login
// connection stays up either way.
func (c *Client) onCreateAccountResult(body *memstream.MemoryStream) error {
	code, err := body.ReadUint16()
	if err != nil {
		return err
	}
	datas, err := body.ReadBlob()
	if err != nil {
		return err
	}

	c.creatingAccount = false
	name := c.store.ServerErrorName(code)
	c.dispatcher.Fire(events.CreateAccountResult{Code: code, Name: name, Datas: append([]byte(nil), datas...)})
	if code != 0 {
		c.log.Warn("Account creation failed", zap.Uint16("code", code), zap.String("name", name), zap.String("account", c.username))
		c.endLoginSpan(fmt.Errorf("account creation failed: %d %s", code, name))
		return nil
	}
	c.log.Info("Account created", zap.String("account", c.username))
	c.endLoginSpan(nil)
	return nil
}

func (c *Client) onLoginBaseappFailed(body *memstream.MemoryStream) error {
	code, err := body.ReadUint16()
	if err != nil {
		return err
	}
	name := c.store.ServerErrorName(code)
	c.log.Warn("Gameplay login failed", zap.Uint16("code", code), zap.String("name", name))
	c.metrics.loginAttempts.WithLabelValues("failed").Inc()
	c.dispatcher.Fire(events.LoginGameplayFailed{Code: code, Name: name})
	c.endLoginSpan(fmt.Errorf("gameplay login failed: %d %s", code, name))
	return nil
}

func (c *Client) onReloginBaseappFailed(body *memstream.MemoryStream) error {
	code, err := body.ReadUint16()
	if err != nil {
		return err
	}
	name := c.store.ServerErrorName(code)
	c.log.Warn("Gameplay relogin failed", zap.Uint16("code", code), zap.String("name", name))
	c.metrics.loginAttempts.WithLabelValues("failed").Inc()
	c.dispatcher.Fire(events.ReloginGameplayFailed{Code: code, Name: name})
	c.endLoginSpan(fmt.Errorf("gameplay relogin failed: %d %s", code, name))
	return nil
}

func (c *Client) onReloginBaseappSuccessfully(body *memstream.MemoryStream) error {
	entityUUID, err := body.ReadUint64()
	if err != nil {
		return err
	}
	c.entityUUID = entityUUID
	c.relogin = false
	c.metrics.loginAttempts.WithLabelValues("success").Inc()
	c.dispatcher.Fire(events.ReloginGameplaySuccess{EntityUUID: entityUUID})
	c.endLoginSpan(nil)
	return nil
}

func (c *Client) onCreatedProxies(body *memstream.MemoryStream) error {
	entityUUID, err := body.ReadUint64()
	if err != nil {
		return err
	}
	entityID, err := body.ReadInt32()
	if err != nil {
		return err
	}
	entityType, err := body.ReadString()
	if err != nil {
		return err
	}

	c.entityUUID = entityUUID
	c.entityID = entityID
	c.log.Info("Proxy created", zap.Int32("entityId", entityID), zap.String("entityType", entityType))
	c.metrics.loginAttempts.WithLabelValues("success").Inc()
	c.dispatcher.Fire(events.CreatedProxies{EntityUUID: entityUUID, EntityID: entityID, EntityType: entityType})
	c.endLoginSpan(nil)
	return nil
}

func (c *Client) onKicked(body *memstream.MemoryStream) error {
	code, err := body.ReadUint16()
	if err != nil {
		return err
	}
	name := c.store.ServerErrorName(code)
	c.log.Warn("Kicked by server", zap.Uint16("code", code), zap.String("name", name))
	c.dispatcher.Fire(events.Kicked{Code: code, Name: name})
	return nil
}

func (c *Client) onAppActiveTickCB(body *memstream.MemoryStream) error {
	c.log.Debug("Heartbeat acknowledged")
	return nil
}
