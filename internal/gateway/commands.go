package gateway

func str(name string) ParamSpec { return ParamSpec{Name: name, Type: ParamString} }
func i32(name string) ParamSpec { return ParamSpec{Name: name, Type: ParamInt32} }

func (g *Gateway) registerCommands() {
	g.commands = make(map[string]*Command)
	g.register(
		&Command{Name: "scan", Handler: g.handleScan},
		&Command{Name: "channel", Handler: g.getHandler(getChannel)},
		&Command{Name: "setchannel", Params: []ParamSpec{i32("channel")}, Handler: g.handleSetChannel, Mutates: true},
		&Command{Name: "networkname", Handler: g.getHandler(getNetworkName)},
		&Command{Name: "setnetworkname", Params: []ParamSpec{str("networkname")}, Handler: g.handleSetNetworkName, Mutates: true},
		&Command{Name: "state", Handler: g.getHandler(getState)},
		&Command{Name: "panid", Handler: g.getHandler(getPanID)},
		&Command{Name: "setpanid", Params: []ParamSpec{str("panid")}, Handler: g.handleSetPanID, Mutates: true},
		&Command{Name: "rloc16", Handler: g.getHandler(getRloc16)},
		&Command{Name: "extpanid", Handler: g.getHandler(getExtPanID)},
		&Command{Name: "setextpanid", Params: []ParamSpec{str("extpanid")}, Handler: g.handleSetExtPanID, Mutates: true},
		&Command{Name: "masterkey", Handler: g.getHandler(getNetworkKey)},
		&Command{Name: "setmasterkey", Params: []ParamSpec{str("masterkey")}, Handler: g.handleSetNetworkKey, Mutates: true},
		&Command{Name: "pskc", Handler: g.getHandler(getPSKc)},
		&Command{Name: "setpskc", Params: []ParamSpec{str("pskc")}, Handler: g.handleSetPSKc, Mutates: true},
		&Command{Name: "threadstart", Handler: g.handleThreadStart, Mutates: true},
		&Command{Name: "threadstop", Handler: g.handleThreadStop, Mutates: true},
		&Command{Name: "neighbor", Handler: g.getHandler(getNeighbors)},
		&Command{Name: "parent", Handler: g.getHandler(getParent)},
		&Command{Name: "mode", Handler: g.getHandler(getMode)},
		&Command{Name: "setmode", Params: []ParamSpec{str("mode")}, Handler: g.handleSetMode, Mutates: true},
		&Command{Name: "leaderpartitionid", Handler: g.getHandler(getLeaderPartitionID)},
		&Command{Name: "setleaderpartitionid", Params: []ParamSpec{i32("leaderpartitionid")}, Handler: g.handleSetLeaderPartitionID, Mutates: true},
		&Command{Name: "leave", Handler: g.handleLeave, Mutates: true},
		&Command{Name: "leaderdata", Handler: g.getHandler(getLeaderData)},
		&Command{Name: "networkdata", Handler: g.handleNetworkData},
		&Command{Name: "commissionerstart", Handler: g.handleCommissionerStart},
		&Command{Name: "joinernum", Handler: g.getHandler(getJoiners)},
		&Command{Name: "joinerremove", Params: []ParamSpec{str("eui64")}, Handler: g.handleJoinerRemove},
		&Command{Name: "macfiltersetstate", Params: []ParamSpec{str("state")}, Handler: g.handleMacFilterSetState, Mutates: true},
		&Command{Name: "macfilteradd", Params: []ParamSpec{str("addr")}, Handler: g.handleMacFilterAdd, Mutates: true},
		&Command{Name: "macfilterremove", Params: []ParamSpec{str("addr")}, Handler: g.handleMacFilterRemove, Mutates: true},
		&Command{Name: "macfilterclear", Handler: g.handleMacFilterClear, Mutates: true},
		&Command{Name: "macfilterstate", Handler: g.getHandler(getMacFilterState)},
		&Command{Name: "macfilteraddr", Handler: g.getHandler(getMacFilterAddrs)},
		&Command{Name: "joineradd", Params: []ParamSpec{str("pskd"), str("eui64")}, Handler: g.handleJoinerAdd},
		&Command{Name: "mgmtset", Params: []ParamSpec{
			str("masterkey"), str("networkname"), str("extpanid"), str("panid"), str("channel"), str("pskc"),
		}, Handler: g.handleMgmtSet, Mutates: true},
	)
}
