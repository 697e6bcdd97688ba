package irrigator

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
	"github.com/LeonardoBeccarini/irrigate/pkg/rabbitmq"
)

const defaultResultTopicTmpl = "event/irrigationResult/{zone}"

// MQTTNotifier publishes one result event per zone at QoS 1 so downstream
// consumers (dashboard, mail) see every session exactly once.
type MQTTNotifier struct {
	pub       rabbitmq.IPublisher
	topicTmpl string
}

var _ Notifier = (*MQTTNotifier)(nil)

func NewMQTTNotifier(pub rabbitmq.IPublisher, topicTmpl string) *MQTTNotifier {
	if strings.TrimSpace(topicTmpl) == "" {
		topicTmpl = defaultResultTopicTmpl
	}
	return &MQTTNotifier{pub: pub, topicTmpl: topicTmpl}
}

func (n *MQTTNotifier) WateringResult(ev model.WateringEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal event for zone %s: %v", ev.ZoneID, err)
		return
	}
	topic := strings.ReplaceAll(n.topicTmpl, "{zone}", ev.ZoneID)
	if err := n.pub.PublishToQos(topic, 1, false, string(b)); err != nil {
		// Notification loss never propagates into the run outcome.
		log.Printf("notify: publish result for zone %s: %v", ev.ZoneID, err)
		return
	}
	log.Printf("notify: result %s zone=%s liters=%.1f topic=%s (qos=1)", ev.Outcome, ev.ZoneID, ev.Liters, topic)
}
