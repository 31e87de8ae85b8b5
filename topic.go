package bagplay

// TopicDescriptor identifies the content type carried on one channel of a
// bag.  Descriptors are created on first encounter and never change for the
// life of the player.
type TopicDescriptor struct {
	Topic      string
	MD5Sum     string
	Datatype   string
	Definition string
}

// topicRegistry maps channel names to their descriptors.  First insertion
// wins; a later registration with different identity is ignored with a
// warning.
type topicRegistry struct {
	topics map[string]*TopicDescriptor
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]*TopicDescriptor)}
}

func (r *topicRegistry) register(topic, md5sum, datatype, definition string) *TopicDescriptor {
	if desc, found := r.topics[topic]; found {
		if desc.MD5Sum != md5sum || desc.Datatype != datatype {
			log.Warnln("Ignoring conflicting registration for topic", topic,
				"already", desc.Datatype, desc.MD5Sum, "got", datatype, md5sum)
		}
		return desc
	}
	desc := &TopicDescriptor{
		Topic:      topic,
		MD5Sum:     md5sum,
		Datatype:   datatype,
		Definition: definition,
	}
	r.topics[topic] = desc
	return desc
}

func (r *topicRegistry) lookup(topic string) *TopicDescriptor {
	return r.topics[topic]
}

func (r *topicRegistry) clear() {
	r.topics = make(map[string]*TopicDescriptor)
}
