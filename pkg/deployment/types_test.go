package deployment

import "testing"

func TestCanTransitionDeployment(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusScheduled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRunning, false},
		{StatusScheduled, StatusRunning, true},
		{StatusRunning, StatusStopped, true},
		{StatusStopped, StatusDeleted, true},
		{StatusStopped, StatusRunning, false},
		{StatusDeleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tc := range cases {
		if got := CanTransitionDeployment(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionDeployment(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransitionReplica(t *testing.T) {
	cases := []struct {
		from, to ReplicaStatus
		want     bool
	}{
		{ReplicaPending, ReplicaStarting, true},
		{ReplicaStarting, ReplicaRunning, true},
		{ReplicaRunning, ReplicaStopping, true},
		{ReplicaStopping, ReplicaStopped, true},
		{ReplicaPending, ReplicaRunning, false},
		{ReplicaStopped, ReplicaRunning, false},
		{ReplicaFailed, ReplicaRunning, false},
	}

	for _, tc := range cases {
		if got := CanTransitionReplica(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionReplica(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDeploymentIsDeleted(t *testing.T) {
	d := &Deployment{}
	if d.IsDeleted() {
		t.Error("new deployment should not be deleted")
	}
}
