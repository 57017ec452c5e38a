// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/relfuzz/relfuzz/pkg/ipc"
	"github.com/relfuzz/relfuzz/pkg/relation"
	"github.com/relfuzz/relfuzz/prog"
)

// relationJob runs the §4.5 relation-learning algorithm against a program
// that was just promoted to the corpus: remove each call in turn,
// re-execute, and record an edge whenever the coverage of the call that
// used to follow it changes.
type relationJob struct {
	p *prog.Prog
}

func (job *relationJob) priority() priority {
	return smashJobPrio
}

func (job *relationJob) run(fuzzer *Fuzzer) {
	table := fuzzer.Config.Relations
	if table == nil {
		return
	}
	learner := relation.NewLearner(table, func(p *prog.Prog) (*ipc.ProgInfo, bool) {
		result := fuzzer.execWait(job, &Request{
			Prog:       p,
			NeedSignal: true,
			stat:       statRelation,
		})
		if result.Stop {
			return nil, true
		}
		return result.Info, false
	})
	learner.Learn(job.p)
}
