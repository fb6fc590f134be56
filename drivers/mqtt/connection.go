package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// buildClient constructs a configured MQTT client and establishes the initial
// connection. fallbackWill is registered when the settings carry no will.
func buildClient(settings ConnectionSettings, fallbackWill *WillSettings, logger zerolog.Logger, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	if settings.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	clientID := settings.ClientID
	if clientID == "" {
		clientID = "vedirect-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	if settings.CleanSession != nil {
		opts.SetCleanSession(*settings.CleanSession)
	}
	if settings.Auth != nil {
		opts.SetUsername(settings.Auth.Username)
		opts.SetPassword(settings.Auth.Password)
	}
	if d := DurationValue(settings.KeepAlive); d > 0 {
		opts.SetKeepAlive(d)
	}
	if d := DurationValue(settings.ConnectTimeout); d > 0 {
		opts.SetConnectTimeout(d)
	}
	opts.SetAutoReconnect(true)
	if settings.AutoReconnect != nil {
		opts.SetAutoReconnect(*settings.AutoReconnect)
	}
	if d := DurationValue(settings.MaxReconnect); d > 0 {
		opts.SetMaxReconnectInterval(d)
	}

	if settings.TLS != nil && settings.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(*settings.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	will := settings.Will
	if will == nil || will.Topic == "" {
		will = fallbackWill
	}
	if will != nil && will.Topic != "" {
		qos := byte(0)
		if will.QoS != nil {
			qos = *will.QoS
		}
		retain := true
		if will.Retain != nil {
			retain = *will.Retain
		}
		opts.SetWill(will.Topic, will.Payload, qos, retain)
	}

	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}
	logger.Info().Str("broker", settings.Broker).Str("client_id", clientID).Msg("mqtt: connected")
	return client, nil
}

func buildTLSConfig(settings TLSSettings) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: settings.InsecureSkipVerify}
	if settings.ServerName != "" {
		cfg.ServerName = settings.ServerName
	}
	if len(settings.ALPN) > 0 {
		cfg.NextProtos = append([]string(nil), settings.ALPN...)
	}

	if settings.CAFile != "" {
		ca, err := os.ReadFile(settings.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("mqtt: parse ca file %s", settings.CAFile)
		}
		cfg.RootCAs = pool
	}

	if settings.CertFile != "" && settings.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
