package bagplay

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StartMQTT republishes played records to an MQTT broker.  Each envelope is
// published to the configured topic prefix followed by its bag topic; an
// envelope that does not decode goes to "<prefix>/records".
// This should run in a new go routine.
func StartMQTT(config *Config, queue *ConfirmationQueue) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MqttBroker)
	opts.SetClientID(config.MqttClientID)
	opts.SetUsername(config.MqttUsername)
	opts.SetPassword(config.MqttPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infoln("Connected to MQTT broker", config.MqttBroker)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		brokerReconnects.Inc()
		log.Warnln("Lost connection to MQTT broker:", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorln("Failed to connect to MQTT broker:", token.Error())
		return
	}

	fallbackTopic := fmt.Sprintf("%s/records", config.MqttTopicPrefix)
	for {
		msg, err := queue.Dequeue()
		if err != nil {
			log.Errorln("Failed to read from queue:", err)
			continue
		}
		topic := fallbackTopic
		var envelope RecordEnvelope
		if err := json.Unmarshal(msg, &envelope); err == nil && envelope.Topic != "" {
			topic = config.MqttTopicPrefix + envelope.Topic
		}
		token := client.Publish(topic, 1, false, msg)
		token.Wait()
		if token.Error() != nil {
			log.Errorln("Failed to publish message:", token.Error())
		}
	}
}
