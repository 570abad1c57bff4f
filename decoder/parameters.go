package decoder

import (
	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/parameters"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// UpdatePictureParameters wraps a parsed parameter set, links it into the parameter graph and
// materializes it when a session exists. The returned set is what a PPS referencing picture
// passes back in PerFrameDecodeParameters.
func (dec *Decoder) UpdatePictureParameters(pp *vkdecoder.PictureParameters,
	updateSequenceCount uint64,
) (*parameters.ParameterSet, error) {
	if err := dec.usable(); err != nil {
		return nil, err
	}
	ps, err := parameters.New(pp, updateSequenceCount)
	if err != nil {
		logger.Warningf(dec, "Dropping parameter set: %v", err)
		return nil, err
	}
	n, err := dec.graph.Add(ps)
	if err != nil {
		return nil, dec.fail("update picture parameters", err)
	}
	logger.Tracef(dec, "Added %v, materialized %d", ps, n)
	return ps, nil
}
