package collab

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "collab")
